package matrixglow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"libdb.so/matrixglow/internal/command"
	"libdb.so/matrixglow/internal/led"
)

const testTOML = `
frame_delay = "20ms"

[panel]
width = 64
height = 32
output = "spi"
serpentine = true

[animation]
hue_step = 128
hue_range = 4096
mode = "sweep"
connecting_color = "#ff8000"

[link]
kind = "static"
address = "192.0.2.7"
connect_timeout = "30s"

[listener]
port = 2323
`

const testYAML = `
frame_delay: 20ms
panel:
  width: 64
  height: 32
  output: spi
  serpentine: true
animation:
  hue_step: 128
  hue_range: 4096
  mode: sweep
  connecting_color: "#ff8000"
link:
  kind: static
  address: 192.0.2.7
  connect_timeout: 30s
listener:
  port: 2323
`

func assertParsed(t *testing.T, cfg *Config) {
	t.Helper()

	assert.Equal(t, TOMLDuration(20*time.Millisecond), cfg.FrameDelay)
	assert.Equal(t, 64, cfg.Panel.Width)
	assert.Equal(t, 32, cfg.Panel.Height)
	assert.Equal(t, SPIOutput, cfg.Panel.Output)
	assert.True(t, cfg.Panel.Serpentine)
	assert.Equal(t, uint16(128), cfg.Animation.HueStep)
	assert.Equal(t, uint16(4096), cfg.Animation.HueRange)
	assert.Equal(t, command.ModeSweep, cfg.Animation.Mode)
	assert.Equal(t, led.RGBColor{0xFF, 0x80, 0x00}, cfg.Animation.ConnectingColor)
	assert.Equal(t, StaticLink, cfg.Link.Kind)
	assert.Equal(t, TOMLDuration(30*time.Second), cfg.Link.ConnectTimeout)
	assert.Equal(t, 2323, cfg.Listener.Port)

	// Untouched keys keep their defaults.
	def := DefaultConfig()
	assert.Equal(t, def.Panel.BitDepth, cfg.Panel.BitDepth)
	assert.Equal(t, def.Animation.Brightness, cfg.Animation.Brightness)
	assert.Equal(t, def.Animation.FPSWindow, cfg.Animation.FPSWindow)
	assert.Equal(t, def.Link.PollInterval, cfg.Link.PollInterval)
	assert.Equal(t, def.Listener.MaxLine, cfg.Listener.MaxLine)

	assert.NoError(t, cfg.Validate())
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(testTOML))
	require.NoError(t, err)
	assertParsed(t, cfg)
}

func TestParseConfigYAML(t *testing.T) {
	cfg, err := ParseConfigYAML(strings.NewReader(testYAML))
	require.NoError(t, err)
	assertParsed(t, cfg)
}

func TestParseConfigEmpty(t *testing.T) {
	cfg, err := ParseConfigYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = ParseConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigBadValues(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("[animation]\nmode = \"spiral\"\n"))
	assert.Error(t, err)

	_, err = ParseConfig(strings.NewReader("[animation]\nbrightness = 300\n"))
	assert.Error(t, err)

	_, err = ParseConfig(strings.NewReader("frame_delay = \"soon\"\n"))
	assert.Error(t, err)
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 32, cfg.Panel.Width)
	assert.Equal(t, 16, cfg.Panel.Height)
	assert.Equal(t, 5, cfg.Panel.BitDepth)
	assert.Equal(t, 23, cfg.Listener.Port)
	assert.Equal(t, 128, cfg.Listener.MaxLine)
	assert.Equal(t, TOMLDuration(10*time.Millisecond), cfg.FrameDelay)
	assert.Equal(t, TOMLDuration(100*time.Millisecond), cfg.Link.PollInterval)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero frame delay", func(c *Config) { c.FrameDelay = 0 }},
		{"zero width", func(c *Config) { c.Panel.Width = 0 }},
		{"bit depth too high", func(c *Config) { c.Panel.BitDepth = 9 }},
		{"unknown output", func(c *Config) { c.Panel.Output = "hologram" }},
		{"serial without device", func(c *Config) { c.Panel.Device = "" }},
		{"web without address", func(c *Config) {
			c.Panel.Output = WebOutput
			c.Panel.WebAddr = ""
		}},
		{"unknown mode", func(c *Config) { c.Animation.Mode = "spiral" }},
		{"unknown link", func(c *Config) { c.Link.Kind = "carrier-pigeon" }},
		{"host link without interface", func(c *Config) { c.Link.Interface = "" }},
		{"bad static address", func(c *Config) {
			c.Link.Kind = StaticLink
			c.Link.Address = "not-an-ip"
		}},
		{"zero poll interval", func(c *Config) { c.Link.PollInterval = 0 }},
		{"port out of range", func(c *Config) { c.Listener.Port = 70000 }},
		{"zero max line", func(c *Config) { c.Listener.MaxLine = 0 }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvSSID:        "hackerspace",
		EnvCredentials: "hunter2",
		EnvPort:        " 2323 ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "hackerspace", cfg.Link.SSID)
	assert.Equal(t, "hunter2", cfg.Link.Credentials)
	assert.Equal(t, 2323, cfg.Listener.Port)

	env[EnvPort] = "telnet"
	assert.Error(t, cfg.ApplyEnv(lookup))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "matrixglow.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(testYAML), 0o644))

	t.Setenv(EnvPort, "4000")

	cfg, err := LoadConfig(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Panel.Width)
	assert.Equal(t, 4000, cfg.Listener.Port)

	badPath := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(badPath, []byte("[panel]\nbit_depth = 12\n"), 0o644))

	_, err = LoadConfig(badPath)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestTOMLDuration(t *testing.T) {
	var d TOMLDuration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, TOMLDuration(90*time.Second), d)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}
