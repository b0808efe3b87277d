package gminer

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/qudata/gminer-agent/internal/domain"
	"github.com/qudata/gminer-agent/internal/network"
)

// InvocationSpec is everything needed to launch one worker process. It owns
// the API port lease until Release is called.
type InvocationSpec struct {
	BinaryPath string
	WorkDir    string
	Args       []string
	Env        map[string]string
	APIPort    int

	lease *network.Lease
}

// CommandLine is Args joined the way they would appear in a shell.
func (s *InvocationSpec) CommandLine() string {
	return strings.Join(s.Args, " ")
}

// Release returns the API port to the pool. Safe to call more than once.
func (s *InvocationSpec) Release() {
	s.lease.Release()
}

// Request describes one launch. Username is the payout identity, or the
// benchmark credential when benchmarking.
type Request struct {
	Algorithm    domain.AlgorithmType
	Devices      []domain.Device
	Endpoint     string
	Username     string
	ExtraOptions string
}

type Indexer interface {
	Indices(devices []domain.Device) ([]int, error)
}

type PortReserver interface {
	Reserve() (*network.Lease, error)
}

type Builder struct {
	binaryPath string
	workDir    string
	env        map[string]string
	indexer    Indexer
	ports      PortReserver
}

// NewBuilder creates a Builder. binaryPath may be empty, in which case the
// GMiner layout under root is used.
func NewBuilder(root, binaryPath string, env map[string]string, indexer Indexer, ports PortReserver) *Builder {
	bin, cwd := BinAndCwdPaths(root)
	if binaryPath != "" {
		bin = binaryPath
		cwd = filepath.Dir(binaryPath)
	}
	return &Builder{
		binaryPath: bin,
		workDir:    cwd,
		env:        env,
		indexer:    indexer,
		ports:      ports,
	}
}

// BinAndCwdPaths returns the worker executable and its working directory
// inside a plugin root.
func BinAndCwdPaths(root string) (string, string) {
	bins := filepath.Join(root, "bins")
	return filepath.Join(bins, "miner"), bins
}

// Build validates req and reserves an API port. Configuration errors are
// reported before any port is taken.
func (b *Builder) Build(req Request) (*InvocationSpec, error) {
	token := AlgorithmName(req.Algorithm)
	if token == "" {
		return nil, domain.ErrUnsupportedAlgorithm{Algorithm: req.Algorithm}
	}

	endpoint, err := SplitEndpoint(req.Endpoint)
	if err != nil {
		return nil, err
	}

	indices, err := b.indexer.Indices(req.Devices)
	if err != nil {
		return nil, err
	}

	lease, err := b.ports.Reserve()
	if err != nil {
		return nil, domain.ErrWorker{Op: "reserve api port", Err: err}
	}

	env := make(map[string]string, len(b.env))
	for k, v := range b.env {
		env[k] = v
	}

	return &InvocationSpec{
		BinaryPath: b.binaryPath,
		WorkDir:    b.workDir,
		Args:       RenderArgs(token, endpoint, req.Username, indices, lease.Port(), req.ExtraOptions, needsPersonalization(req.Algorithm)),
		Env:        env,
		APIPort:    lease.Port(),
		lease:      lease,
	}, nil
}

// RenderArgs produces
//
//	-a <algo> -s <host> -n <port> -u <user> -d <idx ...> -w 0 --api <apiPort> <extra> [--pers auto]
//
// Extra options come after the structured flags so they can override them.
func RenderArgs(token string, ep Endpoint, username string, indices []int, apiPort int, extra string, pers bool) []string {
	args := []string{
		"-a", token,
		"-s", ep.Host,
		"-n", strconv.Itoa(ep.Port),
		"-u", username,
		"-d",
	}
	for _, idx := range indices {
		args = append(args, strconv.Itoa(idx))
	}
	args = append(args, "-w", "0", "--api", strconv.Itoa(apiPort))
	args = append(args, strings.Fields(extra)...)
	if pers {
		args = append(args, "--pers", "auto")
	}
	return args
}

// JoinOptions merges option groups (general, temperature, ...) into the
// single free-form string appended to the command line.
func JoinOptions(groups ...string) string {
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			parts = append(parts, g)
		}
	}
	return strings.Join(parts, " ")
}
