package storage

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qudata/gminer-agent/internal/domain"
)

func TestAgentIDIsStable(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "nested"))
	require.NoError(t, err)

	id, err := s.AgentID()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	reopened, err := NewStore(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	again, err := reopened.AgentID()
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestSecret(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	secret, err := s.Secret()
	require.NoError(t, err)
	assert.Empty(t, secret)

	require.NoError(t, s.SaveSecret("abc\n"))
	secret, err = s.Secret()
	require.NoError(t, err)
	assert.Equal(t, "abc", secret)
}

func TestLastBenchmark(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	got, err := s.LastBenchmark()
	require.NoError(t, err)
	assert.Nil(t, got)

	report := domain.BenchmarkReport{
		AgentID: "agent-1",
		Tier:    domain.TierPrecise,
		BenchmarkResult: domain.BenchmarkResult{
			RunID:     "run-1",
			Algorithm: domain.AlgorithmGrinCuckatoo31,
			Speed:     1.96,
			Success:   true,
			State:     domain.StateConverged,
			Samples:   4,
			Target:    4,
		},
	}
	require.NoError(t, s.SaveLastBenchmark(report))

	got, err = s.LastBenchmark()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, report, *got)
}
