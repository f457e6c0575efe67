package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/javanstorm/vermuda/pkg/hostnet"
	"github.com/javanstorm/vermuda/pkg/hypervisor"
)

// EnvPrefix prefixes environment overrides: VERMUDA_CPU_COUNT,
// VERMUDA_LOG_LEVEL, and so on.
const EnvPrefix = "VERMUDA"

// Config holds all vermuda configuration.
type Config struct {
	CPU     CPUConfig      `mapstructure:"cpu" toml:"cpu"`
	Memory  MemoryConfig   `mapstructure:"memory" toml:"memory"`
	Boot    BootConfig     `mapstructure:"boot" toml:"boot"`
	Root    *RootConfig    `mapstructure:"root" toml:"root,omitempty"`
	Disks   []DiskConfig   `mapstructure:"disks" toml:"disks,omitempty"`
	ISO     ISOConfig      `mapstructure:"iso" toml:"iso,omitempty"`
	Network *NetworkConfig `mapstructure:"network" toml:"network,omitempty"`
	Display *DisplayConfig `mapstructure:"display" toml:"display,omitempty"`
	Log     LogConfig      `mapstructure:"log" toml:"log"`
	Metrics MetricsConfig  `mapstructure:"metrics" toml:"metrics,omitempty"`
}

type CPUConfig struct {
	Count int `mapstructure:"count" toml:"count"`
}

type MemoryConfig struct {
	Size Size `mapstructure:"size" toml:"size"`
}

// BootConfig names an optional read-only boot image. Empty means
// $VM_HOME/boot.img, attached only if it exists.
type BootConfig struct {
	Path string `mapstructure:"path" toml:"path,omitempty"`
}

// RootConfig is the writable root disk, created sparse when missing.
type RootConfig struct {
	Path string `mapstructure:"path" toml:"path,omitempty"`
	Size Size   `mapstructure:"size" toml:"size"`
}

// DiskConfig is a raw host block device.
type DiskConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// ISOConfig is an installer image attached as USB mass storage.
type ISOConfig struct {
	Path string `mapstructure:"path" toml:"path,omitempty"`
}

// NetworkConfig enables the packet bridge.
type NetworkConfig struct {
	// Mode is "bridged" or "unixgram". The default is bridged on Linux and
	// unixgram on macOS, where no AF_PACKET backend exists.
	Mode string `mapstructure:"mode" toml:"mode"`

	// Interface is the host interface for bridged mode.
	Interface string `mapstructure:"interface" toml:"interface,omitempty"`

	// Socket is the peer socket path for unixgram mode.
	Socket string `mapstructure:"socket" toml:"socket,omitempty"`

	MACAddress  string        `mapstructure:"mac_address" toml:"mac_address,omitempty"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" toml:"read_timeout,omitempty"`
	Retry       RetryConfig   `mapstructure:"retry" toml:"retry"`
}

// RetryConfig bounds resends to the VM when socket buffers are full.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" toml:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff" toml:"backoff,omitempty"`
}

// DisplayConfig enables the console window.
type DisplayConfig struct {
	Width  int `mapstructure:"width" toml:"width"`
	Height int `mapstructure:"height" toml:"height"`
}

type LogConfig struct {
	Level string `mapstructure:"level" toml:"level"`
}

type MetricsConfig struct {
	// Listen is the address for the /metrics endpoint. Empty disables it.
	Listen string `mapstructure:"listen" toml:"listen,omitempty"`
}

// Defaults.
const (
	DefaultCPUCount         = 2
	DefaultMemory      Size = 2 << 30
	DefaultRootSize    Size = 64 << 30
	DefaultMaxAttempts      = 100
	DefaultWidth            = 1024
	DefaultHeight           = 768
	DefaultLogLevel         = "info"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CPU:    CPUConfig{Count: DefaultCPUCount},
		Memory: MemoryConfig{Size: DefaultMemory},
		Log:    LogConfig{Level: DefaultLogLevel},
	}
}

// applyDefaults fills fields of optional sections that were left unset.
func (c *Config) applyDefaults() {
	if c.Root != nil && c.Root.Size == 0 {
		c.Root.Size = DefaultRootSize
	}
	if c.Network != nil {
		if c.Network.Mode == "" {
			c.Network.Mode = hostnet.DefaultMode()
		}
		if c.Network.Retry.MaxAttempts == 0 {
			c.Network.Retry.MaxAttempts = DefaultMaxAttempts
		}
	}
	if c.Display != nil {
		if c.Display.Width == 0 {
			c.Display.Width = DefaultWidth
		}
		if c.Display.Height == 0 {
			c.Display.Height = DefaultHeight
		}
	}
}

// Loader reads configuration through viper.
type Loader struct {
	v     *viper.Viper
	paths *Paths
}

// NewLoader prepares a loader for the files under paths. A non-empty file
// overrides paths.ConfigFile.
func NewLoader(paths *Paths, file string) *Loader {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("cpu.count", defaults.CPU.Count)
	v.SetDefault("memory.size", defaults.Memory.Size.String())
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("metrics.listen", "")

	if file == "" {
		file = paths.ConfigFile
	}
	v.SetConfigFile(file)
	v.SetConfigType("toml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, paths: paths}
}

// Load reads the file (optional), the environment and defaults.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK - we use defaults
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		sizeHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := l.v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Set overrides a key, as a command-line flag would.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// ConfigFileUsed returns the path of the config file being used, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch calls fn whenever the config file changes on disk.
func (l *Loader) Watch(fn func(fsnotify.Event)) {
	if _, err := os.Stat(l.v.ConfigFileUsed()); err != nil {
		return
	}
	l.v.OnConfigChange(fn)
	l.v.WatchConfig()
}

// Encode renders cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

// resolve makes p absolute against the VM home.
func (p *Paths) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.Home, path)
}

// BootPath returns the boot image path.
func (c *Config) BootPath(p *Paths) string {
	if c.Boot.Path != "" {
		return p.resolve(c.Boot.Path)
	}
	return p.BootImage
}

// RootPath returns the root disk path, or "" when no root disk is
// configured.
func (c *Config) RootPath(p *Paths) string {
	if c.Root == nil {
		return ""
	}
	if c.Root.Path != "" {
		return p.resolve(c.Root.Path)
	}
	return p.RootImage
}

// VMConfig translates cfg into the hypervisor's hardware configuration.
// Networking is wired by the controller.
func (c *Config) VMConfig(p *Paths) *hypervisor.VMConfig {
	vc := &hypervisor.VMConfig{
		CPUs:             c.CPU.Count,
		MemoryMB:         c.Memory.Size.MiB(),
		EFIVariableStore: p.EFIVariableStore,
		BootDisk:         c.BootPath(p),
		RootDisk:         c.RootPath(p),
		ISO:              p.resolve(c.ISO.Path),
		Console:          true,
	}
	for _, d := range c.Disks {
		vc.BlockDevices = append(vc.BlockDevices, d.Path)
	}
	return vc
}

// HostNetwork returns the host network backend options, or nil when
// networking is off.
func (c *Config) HostNetwork() *hostnet.Options {
	if c.Network == nil {
		return nil
	}
	return &hostnet.Options{
		Mode:        c.Network.Mode,
		Interface:   c.Network.Interface,
		Socket:      c.Network.Socket,
		ReadTimeout: c.Network.ReadTimeout,
	}
}
