package fleet

import (
	"strings"

	"github.com/qudata/gminer-agent/internal/domain"
)

const locationPlaceholder = "{location}"

// StaticResolver maps an algorithm to a stratum endpoint template such as
// "{location}.pool.example:3333".
type StaticResolver struct {
	templates map[domain.AlgorithmType]string
}

func NewStaticResolver(templates map[string]string) *StaticResolver {
	r := &StaticResolver{templates: make(map[domain.AlgorithmType]string, len(templates))}
	for algo, tmpl := range templates {
		r.templates[domain.AlgorithmType(strings.ToLower(algo))] = tmpl
	}
	return r
}

func (r *StaticResolver) Endpoint(algorithm domain.AlgorithmType, location string) (string, error) {
	tmpl, ok := r.templates[algorithm]
	if !ok {
		return "", domain.ErrInvalidEndpoint{Reason: "no endpoint configured for " + string(algorithm)}
	}
	if strings.Contains(tmpl, locationPlaceholder) && location == "" {
		return "", domain.ErrInvalidEndpoint{Endpoint: tmpl, Reason: "location is required"}
	}
	return strings.ReplaceAll(tmpl, locationPlaceholder, location), nil
}
