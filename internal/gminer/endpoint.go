package gminer

import (
	"net"
	"strconv"
	"strings"

	"github.com/qudata/gminer-agent/internal/domain"
)

type Endpoint struct {
	Host string
	Port int
}

// SplitEndpoint parses "host:port" as handed out by the location resolver.
func SplitEndpoint(raw string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, domain.ErrInvalidEndpoint{Endpoint: raw, Reason: err.Error()}
	}
	if host == "" {
		return Endpoint{}, domain.ErrInvalidEndpoint{Endpoint: raw, Reason: "empty host"}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}, domain.ErrInvalidEndpoint{Endpoint: raw, Reason: "port must be 1-65535"}
	}
	return Endpoint{Host: host, Port: port}, nil
}
