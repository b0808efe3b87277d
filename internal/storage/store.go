package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/qudata/gminer-agent/internal/domain"
)

const (
	agentIDFile   = "agent_id"
	secretFile    = "agent_secret"
	benchmarkFile = "last_benchmark.json"
)

// Store provides persistent file-based storage for agent state.
type Store struct {
	dataDir string
	mu      sync.RWMutex
}

// NewStore creates a Store rooted at dataDir, ensuring the directory exists.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

// AgentID returns the persisted agent ID, generating one if it doesn't exist.
func (s *Store) AgentID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dataDir, agentIDFile)
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id := uuid.New().String()
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("write agent id: %w", err)
	}
	return id, nil
}

// SaveSecret persists the control API secret handed out by the fleet manager.
func (s *Store) SaveSecret(secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(filepath.Join(s.dataDir, secretFile), []byte(secret), 0o600)
}

// Secret reads the persisted secret; empty if none was saved.
func (s *Store) Secret() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(filepath.Join(s.dataDir, secretFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *Store) SaveLastBenchmark(report domain.BenchmarkReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal benchmark: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dataDir, benchmarkFile), data, 0o600)
}

// LastBenchmark loads the most recent benchmark, or nil if none was saved.
func (s *Store) LastBenchmark() (*domain.BenchmarkReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(filepath.Join(s.dataDir, benchmarkFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var report domain.BenchmarkReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("unmarshal benchmark: %w", err)
	}
	return &report, nil
}
