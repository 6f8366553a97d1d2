package matrixglow

import (
	"encoding"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"libdb.so/matrixglow/internal/anim"
	"libdb.so/matrixglow/internal/command"
	"libdb.so/matrixglow/internal/led"
)

// Environment variables that override the configuration file.
const (
	EnvSSID        = "MATRIXGLOW_SSID"
	EnvCredentials = "MATRIXGLOW_CREDENTIALS"
	EnvPort        = "MATRIXGLOW_PORT"
)

// Config is the configuration for the matrixglow daemon.
type Config struct {
	// FrameDelay is the idle delay between two frames.
	FrameDelay TOMLDuration `toml:"frame_delay" yaml:"frame_delay"`

	Panel     PanelConfig     `toml:"panel" yaml:"panel"`
	Animation AnimationConfig `toml:"animation" yaml:"animation"`
	Link      LinkConfig      `toml:"link" yaml:"link"`
	Listener  ListenerConfig  `toml:"listener" yaml:"listener"`
}

// PanelConfig describes the matrix and where its frames go.
type PanelConfig struct {
	Width    int        `toml:"width" yaml:"width"`
	Height   int        `toml:"height" yaml:"height"`
	BitDepth int        `toml:"bit_depth" yaml:"bit_depth"`
	Output   OutputKind `toml:"output" yaml:"output"`

	// Device is the path to the serial device of the controller board.
	// This is usually /dev/ttyUSB0 or /dev/ttyACM0.
	Device string `toml:"device" yaml:"device"`
	// Baud is the baud rate for the serial connection.
	Baud int `toml:"baud" yaml:"baud"`

	// SPIPort is the SPI port name; empty picks the first one.
	SPIPort string `toml:"spi_port" yaml:"spi_port"`
	// SPIFreqKHz is the NRZ bit rate in kHz; zero picks 800.
	SPIFreqKHz int `toml:"spi_freq_khz" yaml:"spi_freq_khz"`
	// Serpentine is set for strips that zig-zag across the matrix.
	Serpentine bool `toml:"serpentine" yaml:"serpentine"`

	// WebAddr is the listen address of the web preview.
	WebAddr string `toml:"web_addr" yaml:"web_addr"`
}

// OutputKind selects the panel output.
type OutputKind string

const (
	// SerialOutput sends frames to a controller board over a serial line.
	SerialOutput OutputKind = "serial"
	// SPIOutput drives WS2812-style LEDs from an SPI port.
	SPIOutput OutputKind = "spi"
	// TermOutput previews the matrix in the terminal.
	TermOutput OutputKind = "term"
	// WebOutput previews the matrix over HTTP.
	WebOutput OutputKind = "web"
)

// AnimationConfig holds the animation defaults. RESET returns to these.
type AnimationConfig struct {
	HueStep    uint16       `toml:"hue_step" yaml:"hue_step"`
	HueRange   uint16       `toml:"hue_range" yaml:"hue_range"`
	Mode       command.Mode `toml:"mode" yaml:"mode"`
	Brightness uint8        `toml:"brightness" yaml:"brightness"`
	// FPSWindow is the number of frames between refresh rate log lines.
	FPSWindow int `toml:"fps_window" yaml:"fps_window"`

	ConnectingText  string       `toml:"connecting_text" yaml:"connecting_text"`
	ConnectingColor led.RGBColor `toml:"connecting_color" yaml:"connecting_color"`
}

// LinkConfig configures the network link.
type LinkConfig struct {
	Kind LinkKind `toml:"kind" yaml:"kind"`

	// Interface is the host interface to watch, e.g. wlan0.
	Interface string `toml:"interface" yaml:"interface"`
	// Address is the local address reported by a static link.
	Address string `toml:"address" yaml:"address"`

	SSID        string `toml:"ssid" yaml:"ssid"`
	Credentials string `toml:"credentials" yaml:"credentials"`

	// Probe is an optional host that must answer an echo request.
	Probe         string       `toml:"probe" yaml:"probe"`
	ProbeTimeout  TOMLDuration `toml:"probe_timeout" yaml:"probe_timeout"`
	CheckInterval TOMLDuration `toml:"check_interval" yaml:"check_interval"`

	// ConnectTimeout bounds the startup wait. Zero waits forever.
	ConnectTimeout TOMLDuration `toml:"connect_timeout" yaml:"connect_timeout"`
	// PollInterval is the step of the startup wait and of the indicator blink.
	PollInterval TOMLDuration `toml:"poll_interval" yaml:"poll_interval"`

	// StatusPin is the GPIO pin of the status light, e.g. GPIO17. Empty
	// disables it.
	StatusPin string `toml:"status_pin" yaml:"status_pin"`
}

// LinkKind selects the link layer.
type LinkKind string

const (
	// HostLink watches an interface managed by the operating system.
	HostLink LinkKind = "host"
	// StaticLink is always connected.
	StaticLink LinkKind = "static"
)

// ListenerConfig configures the command listener.
type ListenerConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`
	// MaxLine is the longest command line accepted.
	MaxLine int `toml:"max_line" yaml:"max_line"`
	// BufferSize is the size of the per-frame read buffer.
	BufferSize int `toml:"buffer_size" yaml:"buffer_size"`
	// PollTimeout bounds a single accept or read poll.
	PollTimeout TOMLDuration `toml:"poll_timeout" yaml:"poll_timeout"`
}

// DefaultConfig returns the configuration of the reference 32x16 panel.
func DefaultConfig() *Config {
	return &Config{
		FrameDelay: TOMLDuration(10 * time.Millisecond),
		Panel: PanelConfig{
			Width:    32,
			Height:   16,
			BitDepth: 5,
			Output:   SerialOutput,
			Device:   "/dev/ttyACM0",
			Baud:     115200,
			WebAddr:  ":8081",
		},
		Animation: AnimationConfig{
			HueStep:         32,
			Mode:            command.ModeRadial,
			Brightness:      0xFF,
			FPSWindow:       anim.DefaultFPSWindow,
			ConnectingText:  anim.DefaultConnectingText,
			ConnectingColor: led.RGBColor{0x00, 0x00, 0xFF},
		},
		Link: LinkConfig{
			Kind:          HostLink,
			Interface:     "wlan0",
			ProbeTimeout:  TOMLDuration(2 * time.Second),
			CheckInterval: TOMLDuration(time.Second),
			PollInterval:  TOMLDuration(100 * time.Millisecond),
		},
		Listener: ListenerConfig{
			Port:        23,
			MaxLine:     command.DefaultMaxLineLength,
			PollTimeout: TOMLDuration(time.Millisecond),
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.FrameDelay <= 0 {
		return errors.New("frame_delay must be positive")
	}

	p := c.Panel
	if p.Width <= 0 || p.Height <= 0 {
		return errors.Errorf("invalid panel size %dx%d", p.Width, p.Height)
	}
	if p.BitDepth < 1 || p.BitDepth > 8 {
		return errors.Errorf("bit_depth %d out of range 1..8", p.BitDepth)
	}

	switch p.Output {
	case SerialOutput:
		if p.Device == "" {
			return errors.New("serial output needs a device")
		}
		if p.Baud <= 0 {
			return errors.New("serial output needs a positive baud rate")
		}
	case SPIOutput:
		if p.SPIFreqKHz < 0 {
			return errors.New("spi_freq_khz must not be negative")
		}
	case TermOutput:
	case WebOutput:
		if p.WebAddr == "" {
			return errors.New("web output needs web_addr")
		}
	default:
		return errors.Errorf("unknown panel output %q", p.Output)
	}

	if _, err := command.ParseMode(string(c.Animation.Mode)); err != nil {
		return errors.Wrap(err, "invalid animation mode")
	}
	if c.Animation.FPSWindow <= 0 {
		return errors.New("fps_window must be positive")
	}

	switch c.Link.Kind {
	case HostLink:
		if c.Link.Interface == "" {
			return errors.New("host link needs an interface")
		}
	case StaticLink:
		if c.Link.Address != "" && net.ParseIP(c.Link.Address) == nil {
			return errors.Errorf("invalid static address %q", c.Link.Address)
		}
	default:
		return errors.Errorf("unknown link kind %q", c.Link.Kind)
	}
	if c.Link.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if c.Link.ConnectTimeout < 0 {
		return errors.New("connect_timeout must not be negative")
	}

	l := c.Listener
	if l.Port < 0 || l.Port > 0xFFFF {
		return errors.Errorf("listener port %d out of range", l.Port)
	}
	if l.MaxLine <= 0 {
		return errors.New("max_line must be positive")
	}
	if l.BufferSize < 0 {
		return errors.New("buffer_size must not be negative")
	}
	if l.Host != "" && net.ParseIP(l.Host) == nil {
		return errors.Errorf("invalid listener host %q", l.Host)
	}

	return nil
}

// ApplyEnv overrides the link credentials and listener port from the
// environment. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvSSID); ok {
		c.Link.SSID = v
	}
	if v, ok := lookup(EnvCredentials); ok {
		c.Link.Credentials = v
	}
	if v, ok := lookup(EnvPort); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "invalid %s", EnvPort)
		}
		c.Listener.Port = port
	}
	return nil
}

// TOMLDuration is a duration that can be parsed from TOML or YAML.
type TOMLDuration time.Duration

var (
	_ encoding.TextUnmarshaler = (*TOMLDuration)(nil)
	_ encoding.TextMarshaler   = (*TOMLDuration)(nil)
)

func (d *TOMLDuration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = TOMLDuration(duration)
	return nil
}

func (d TOMLDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ParseConfig parses a TOML configuration from a reader. Keys missing from
// the document keep their DefaultConfig values.
func ParseConfig(r io.Reader) (*Config, error) {
	config := DefaultConfig()
	if err := toml.NewDecoder(r).Decode(config); err != nil {
		return nil, errors.Wrap(err, "failed to decode TOML config")
	}
	return config, nil
}

// ParseConfigYAML is like ParseConfig but for YAML.
func ParseConfigYAML(r io.Reader) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.NewDecoder(r).Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "failed to decode YAML config")
	}
	return config, nil
}

// LoadConfig reads the configuration at path, choosing the format from the
// extension, then applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer f.Close()

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = ParseConfigYAML(f)
	default:
		cfg, err = ParseConfig(f)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}
