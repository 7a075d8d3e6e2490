package raknet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeConfig(t, "raknetd.toml", `
address = "0.0.0.0:19133"
motd = "MCPE;test"
mtu = 1400
resend_interval = "250ms"
receive_timeout = "30s"
ban_db = "bans.db"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:19133", cfg.Address)
	assert.Equal(t, "MCPE;test", cfg.MOTD)
	assert.Equal(t, 1400, cfg.MTU)
	assert.Equal(t, 250*time.Millisecond, cfg.ResendInterval.Duration)
	assert.Equal(t, 30*time.Second, cfg.ReceiveTimeout.Duration)
	assert.Equal(t, "bans.db", cfg.BanDB)
	// untouched fields keep their defaults
	assert.Equal(t, ProtocolVersion, cfg.ProtocolVersion)
	assert.Equal(t, 20*time.Millisecond, cfg.TickInterval.Duration)
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "raknetd.yaml", `
address: 127.0.0.1:19132
protocol_version: 11
ping_interval: 2s
event_buffer: 16
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:19132", cfg.Address)
	assert.EqualValues(t, 11, cfg.ProtocolVersion)
	assert.Equal(t, 2*time.Second, cfg.PingInterval.Duration)
	assert.Equal(t, 16, cfg.EventBuffer)
	assert.Equal(t, DefaultMTU, cfg.MTU)

	_, err = LoadConfig(writeConfig(t, "bad.yml", "nonsense: true\n"))
	assert.Error(t, err, "unknown keys should be rejected")
	_, err = LoadConfig(writeConfig(t, "bad.yml", "ping_interval: soon\n"))
	assert.Error(t, err)
}

func TestLoadConfigUnsupported(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "raknetd.json", "{}"))
	assert.Error(t, err)
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{MTU: 100}.withDefaults()
	assert.Equal(t, minMTU, cfg.MTU)
	assert.Equal(t, DefaultConfig().ResendInterval, cfg.ResendInterval)
	assert.Equal(t, 256, cfg.EventBuffer)
	assert.Equal(t, 1024, cfg.RecoveryBuffer)

	cfg = Config{EventBuffer: 10, RecoveryBuffer: 10}.withDefaults()
	assert.Equal(t, 10, cfg.EventBuffer)
	assert.Equal(t, readBufferSize/4+reservedEvents, cfg.EventBuffer+cfg.RecoveryBuffer,
		"a full datagram must always fit")

	text, err := cfg.PingInterval.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "5s", string(text))
}
