package gminer

import (
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qudata/gminer-agent/internal/devicemap"
	"github.com/qudata/gminer-agent/internal/domain"
	"github.com/qudata/gminer-agent/internal/network"
)

type countingPorts struct {
	alloc    *network.PortAllocator
	reserved int
}

func (c *countingPorts) Reserve() (*network.Lease, error) {
	c.reserved++
	return c.alloc.Reserve()
}

func newTestBuilder(t *testing.T) (*Builder, *countingPorts) {
	t.Helper()
	m, err := devicemap.New([]devicemap.Entry{
		{DeviceID: "A", Class: domain.ClassCUDA, Index: 0},
		{DeviceID: "B", Class: domain.ClassCUDA, Index: 1},
		{DeviceID: "C", Class: domain.ClassCUDA, Index: 3},
	})
	require.NoError(t, err)
	ports := &countingPorts{alloc: network.NewPortAllocator()}
	return NewBuilder("/opt/gminer", "", map[string]string{"GPU_MAX_ALLOC_PERCENT": "100"}, m, ports), ports
}

func TestBuildZHash(t *testing.T) {
	b, ports := newTestBuilder(t)

	spec, err := b.Build(Request{
		Algorithm:    domain.AlgorithmZHash,
		Devices:      []domain.Device{{ID: "C"}, {ID: "A"}},
		Endpoint:     "zhash.eu.nicehash.com:3369",
		Username:     "wallet.rig1",
		ExtraOptions: "  --templimit 85 ",
	})
	require.NoError(t, err)
	defer spec.Release()

	assert.Equal(t, 1, ports.reserved)
	assert.True(t, ports.alloc.InUse(spec.APIPort))
	assert.Equal(t, filepath.Join("/opt/gminer", "bins", "miner"), spec.BinaryPath)
	assert.Equal(t, filepath.Join("/opt/gminer", "bins"), spec.WorkDir)
	assert.Equal(t, "100", spec.Env["GPU_MAX_ALLOC_PERCENT"])

	want := []string{
		"-a", "144_5",
		"-s", "zhash.eu.nicehash.com",
		"-n", "3369",
		"-u", "wallet.rig1",
		"-d", "3", "0",
		"-w", "0",
		"--api", strconv.Itoa(spec.APIPort),
		"--templimit", "85",
		"--pers", "auto",
	}
	assert.Equal(t, want, spec.Args)
	assert.Equal(t, "-a 144_5 -s zhash.eu.nicehash.com -n 3369 -u wallet.rig1 -d 3 0 -w 0 --api "+strconv.Itoa(spec.APIPort)+" --templimit 85 --pers auto", spec.CommandLine())
}

func TestBuildBeamHasNoPersonalization(t *testing.T) {
	b, _ := newTestBuilder(t)

	spec, err := b.Build(Request{
		Algorithm: domain.AlgorithmBeam,
		Devices:   []domain.Device{{ID: "B"}},
		Endpoint:  "beam.usa.nicehash.com:3370",
		Username:  "wallet",
	})
	require.NoError(t, err)
	defer spec.Release()

	assert.NotContains(t, spec.Args, "--pers")
	assert.Equal(t, "150_5", spec.Args[1])
}

func TestBuildReleaseReturnsPort(t *testing.T) {
	b, ports := newTestBuilder(t)

	spec, err := b.Build(Request{
		Algorithm: domain.AlgorithmGrinCuckatoo31,
		Devices:   []domain.Device{{ID: "A"}},
		Endpoint:  "grin.eu.nicehash.com:3372",
		Username:  "wallet",
	})
	require.NoError(t, err)

	spec.Release()
	spec.Release()
	assert.False(t, ports.alloc.InUse(spec.APIPort))
}

func TestBuildConfigurationErrorsReserveNothing(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "unsupported algorithm",
			req:     Request{Algorithm: "x16r", Devices: []domain.Device{{ID: "A"}}, Endpoint: "h:1"},
			wantErr: domain.ErrUnsupportedAlgorithm{Algorithm: "x16r"},
		},
		{
			name:    "unmapped device",
			req:     Request{Algorithm: domain.AlgorithmBeam, Devices: []domain.Device{{ID: "A"}, {ID: "Z"}}, Endpoint: "h:1"},
			wantErr: domain.ErrUnmappedDevice{DeviceID: "Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ports := newTestBuilder(t)

			spec, err := b.Build(tt.req)
			assert.Nil(t, spec)
			assert.Equal(t, tt.wantErr, err)
			assert.True(t, errors.Is(err, domain.ErrConfiguration))
			assert.Zero(t, ports.reserved)
		})
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		raw     string
		want    Endpoint
		wantErr bool
	}{
		{raw: "beam.eu.nicehash.com:3370", want: Endpoint{Host: "beam.eu.nicehash.com", Port: 3370}},
		{raw: " 10.0.0.1:80 ", want: Endpoint{Host: "10.0.0.1", Port: 80}},
		{raw: "[::1]:3333", want: Endpoint{Host: "::1", Port: 3333}},
		{raw: "no-port", wantErr: true},
		{raw: ":3333", wantErr: true},
		{raw: "host:", wantErr: true},
		{raw: "host:abc", wantErr: true},
		{raw: "host:70000", wantErr: true},
		{raw: "a:b:c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := SplitEndpoint(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrConfiguration))
				var invalid domain.ErrInvalidEndpoint
				assert.True(t, errors.As(err, &invalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderArgsIsDeterministic(t *testing.T) {
	ep := Endpoint{Host: "h", Port: 1}
	first := RenderArgs("grin29", ep, "u", []int{2, 0}, 4000, "--a 1", false)
	second := RenderArgs("grin29", ep, "u", []int{2, 0}, 4000, "--a 1", false)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"-a", "grin29", "-s", "h", "-n", "1", "-u", "u", "-d", "2", "0", "-w", "0", "--api", "4000", "--a", "1"}, first)
}

func TestAlgorithmName(t *testing.T) {
	assert.Equal(t, "144_5", AlgorithmName(domain.AlgorithmZHash))
	assert.Equal(t, "150_5", AlgorithmName(domain.AlgorithmBeam))
	assert.Equal(t, "grin29", AlgorithmName(domain.AlgorithmGrinCuckaroo29))
	assert.Equal(t, "grin31", AlgorithmName(domain.AlgorithmGrinCuckatoo31))
	assert.Equal(t, "", AlgorithmName("ethash"))
	assert.False(t, Supported("ethash"))
}

func TestJoinOptions(t *testing.T) {
	assert.Equal(t, "--oc1 --templimit 80", JoinOptions(" --oc1 ", "", "--templimit 80"))
	assert.Equal(t, "", JoinOptions("", "  "))
}
