package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/protocol"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
log:
  level: debug
  encoding: console
clock:
  tick_rate_hz: 30
transport:
  kind: quic
  addr: 0.0.0.0:9000
  dial_timeout: 2s
compression: zstd
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.InDelta(t, 30.0, cfg.Clock.TickRateHz, 1e-9)
	assert.EqualValues(t, 200, cfg.Clock.Lag, "default kept")
	assert.Equal(t, TransportQUIC, cfg.Transport.Kind)
	assert.Equal(t, 2*time.Second, cfg.Transport.DialTimeout)
	assert.Equal(t, "/sync", cfg.Transport.Path)
	assert.Equal(t, "zstd", cfg.Compression)

	opts, err := cfg.LogOptions()
	require.NoError(t, err)
	assert.Equal(t, log.LevelDebug, opts.Level)
	assert.Equal(t, "console", opts.Encoding)
}

func TestParse_EmptyInputYieldsDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown field":     "bogus: 1\n",
		"bad level":         "log:\n  level: loud\n",
		"bad encoding":      "log:\n  encoding: xml\n",
		"zero tick rate":    "clock:\n  tick_rate_hz: 0\n",
		"negative lead":     "clock:\n  initial_lead: -1\n",
		"zero capacity":     "buffer:\n  command_capacity: 0\n",
		"bad transport":     "transport:\n  kind: tcp\n",
		"empty addr":        "transport:\n  addr: \"\"\n",
		"bad compression":   "compression: brotli\n",
		"negative sessions": "server:\n  max_sessions: -1\n",
		"malformed syntax":  "log: [\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.ErrorIs(t, err, protocol.ErrInvalidConfig)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compression: none\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Compression)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCompressionStrategy(t *testing.T) {
	cfg := Default()
	strategy, err := cfg.CompressionStrategy()
	require.NoError(t, err)
	assert.Equal(t, protocol.CompressionLZ4, strategy.ID())

	cfg.Compression = "none"
	strategy, err = cfg.CompressionStrategy()
	require.NoError(t, err)
	assert.Equal(t, protocol.CompressionNone, strategy.ID())
}
