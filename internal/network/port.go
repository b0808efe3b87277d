package network

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
)

// ErrPoolExhausted is returned when every configured port is reserved or busy.
var ErrPoolExhausted = errors.New("port pool exhausted")

const maxDynamicAttempts = 32

// PortAllocator hands out local ports for worker status endpoints. Ports
// stay reserved until released, so two concurrently launched workers never
// receive the same port.
type PortAllocator struct {
	mu        sync.Mutex
	allocated map[int]struct{}

	// pool is empty for dynamic (OS-assigned) allocation.
	pool []int
	next int
}

// NewPortAllocator creates a new port allocator.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{
		allocated: make(map[int]struct{}),
	}
}

// Configure restricts allocation to a list of ports and ranges such as
// "4000-4010,4050". An empty string keeps dynamic allocation.
func (a *PortAllocator) Configure(raw string) error {
	ports, err := ParsePorts(raw)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pool = ports
	a.next = 0
	return nil
}

// Allocate finds and reserves n free ports on the host.
func (a *PortAllocator) Allocate(n int) ([]int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ports := make([]int, 0, n)
	for i := 0; i < n; i++ {
		port, err := a.pick()
		if err != nil {
			// Release any ports we already allocated in this batch
			for _, p := range ports {
				delete(a.allocated, p)
			}
			return nil, fmt.Errorf("allocate port %d/%d: %w", i+1, n, err)
		}
		ports = append(ports, port)
		a.allocated[port] = struct{}{}
	}
	return ports, nil
}

// AllocateOne finds and reserves a single free port.
func (a *PortAllocator) AllocateOne() (int, error) {
	ports, err := a.Allocate(1)
	if err != nil {
		return 0, err
	}
	return ports[0], nil
}

// Release marks ports as no longer in use.
func (a *PortAllocator) Release(ports ...int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range ports {
		delete(a.allocated, p)
	}
}

// InUse reports whether port is currently reserved.
func (a *PortAllocator) InUse(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.allocated[port]
	return ok
}

// Reserve allocates one port wrapped in a Lease.
func (a *PortAllocator) Reserve() (*Lease, error) {
	port, err := a.AllocateOne()
	if err != nil {
		return nil, err
	}
	return &Lease{port: port, release: func() { a.Release(port) }}, nil
}

// pick must be called with a.mu held.
func (a *PortAllocator) pick() (int, error) {
	if len(a.pool) > 0 {
		return a.pickFromPool()
	}

	for attempt := 0; attempt < maxDynamicAttempts; attempt++ {
		port, err := findFreePort()
		if err != nil {
			return 0, err
		}
		// The OS may hand back a port we reserved but whose worker has not bound it yet.
		if _, taken := a.allocated[port]; !taken {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no unreserved port after %d attempts", maxDynamicAttempts)
}

func (a *PortAllocator) pickFromPool() (int, error) {
	for i := 0; i < len(a.pool); i++ {
		idx := (a.next + i) % len(a.pool)
		port := a.pool[idx]
		if _, taken := a.allocated[port]; taken {
			continue
		}
		if !isPortAvailable(port) {
			continue
		}
		a.next = (idx + 1) % len(a.pool)
		return port, nil
	}
	return 0, ErrPoolExhausted
}

// Lease is a port reservation scoped to one worker process. Release is safe
// to call from every exit path; only the first call has an effect.
type Lease struct {
	port    int
	once    sync.Once
	release func()
}

func (l *Lease) Port() int {
	return l.port
}

func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(l.release)
}

// ParsePorts expands "4000-4002, 4010" into [4000 4001 4002 4010].
func ParsePorts(raw string) ([]int, error) {
	var ports []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			bounds := strings.Split(part, "-")
			if len(bounds) != 2 {
				return nil, fmt.Errorf("invalid port range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid start port: %s", bounds[0])
			}
			end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid end port: %s", bounds[1])
			}
			if start > end || start < 1 || end > 65535 {
				return nil, fmt.Errorf("invalid port range: %d-%d", start, end)
			}
			for port := start; port <= end; port++ {
				ports = append(ports, port)
			}
			continue
		}

		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port: %s", part)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func isPortAvailable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// findFreePort asks the OS for an available port by binding to :0.
func findFreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("listen on :0: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
