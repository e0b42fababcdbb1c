package main

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"preclear/blockplan"
	"preclear/pass"
	"preclear/pattern"
)

var errSizeRange = errors.New("size does not fit in 64 bits")

// ConfigError is any problem with the requested run that is detected
// before the device is touched.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Err: fmt.Errorf(format, args...)}
}

// Config is everything a run needs, collected from flags, PRECLEAR_*
// environment variables and an optional preclear.yaml.
type Config struct {
	Path          string `mapstructure:"-"`
	Key           string `mapstructure:"key"`
	BlockSize     string `mapstructure:"block-size"`
	Start         string `mapstructure:"start"`
	Write         bool   `mapstructure:"write"`
	Zero          bool   `mapstructure:"zero"`
	PerBlockTweak bool   `mapstructure:"per-block-tweak"`
	TUI           bool   `mapstructure:"tui"`
	Verbose       bool   `mapstructure:"verbose"`
	Force         bool   `mapstructure:"force"`
	LogLevel      string `mapstructure:"log-level"`

	blockSize uint64
	start     uint64
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.StringP("block-size", "b", "", "block size in bytes, with optional K/M/G suffix (multiple of 16)")
	fs.StringP("key", "k", "", "256-bit key as 64 hex digits, dashes allowed (generated when empty)")
	fs.StringP("start", "s", "0", "byte offset to start from, with optional K/M/G suffix")
	fs.BoolP("write", "w", false, "write the random pattern before verifying (destroys data)")
	fs.BoolP("zero", "z", false, "write zeros before verifying (destroys data)")
	fs.BoolP("verbose", "v", false, "print block geometry and info level logs")
	fs.Bool("tui", false, "full-screen block map instead of a progress line")
	fs.Bool("per-block-tweak", false, "vary the pattern per block index")
	fs.Bool("force", false, "write even if the device has mounted volumes")
	fs.String("log-level", "warn", "log level: debug, info, warn, error")
}

// loadConfig merges fs with the environment and config file. Flags given on
// the command line win.
func loadConfig(fs *pflag.FlagSet, path string) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix("PRECLEAR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("preclear")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/preclear")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, configErrorf("read config %s: %v", v.ConfigFileUsed(), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, configErrorf("decode config: %v", err)
	}
	cfg.Path = path
	return cfg, cfg.Validate()
}

// Validate checks the flag combination and parses the numeric options.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return configErrorf("a device or file path is required")
	}
	if c.Write && c.Zero {
		return configErrorf("cannot write both zero (-z) and random (-w)")
	}

	var err error
	if c.BlockSize != "" {
		if c.blockSize, err = parseSize(c.BlockSize); err != nil {
			return configErrorf("invalid block size %q: %w", c.BlockSize, err)
		}
		if err := blockplan.ValidateOverride(c.blockSize); err != nil {
			return &ConfigError{Err: err}
		}
	}
	if c.Start != "" {
		if c.start, err = parseSize(c.Start); err != nil {
			return configErrorf("invalid start offset %q: %w", c.Start, err)
		}
	}
	if _, _, err := c.KeyMaterial(); err != nil {
		return err
	}
	if c.LogLevel != "" {
		if _, err := parseLevel(c.LogLevel); err != nil {
			return configErrorf("invalid log level %q: %v", c.LogLevel, err)
		}
	}
	return nil
}

// Mode is the pass mode selected by -w and -z.
func (c *Config) Mode() pass.Mode {
	switch {
	case c.Write:
		return pass.ModeRandom
	case c.Zero:
		return pass.ModeZero
	default:
		return pass.ModeRead
	}
}

// BlockSizeOverride is the parsed -b value, 0 when unset.
func (c *Config) BlockSizeOverride() uint64 { return c.blockSize }

// StartOffset is the parsed -s value.
func (c *Config) StartOffset() uint64 { return c.start }

// KeyMaterial parses the configured key. supplied is false when no key was
// given and one has to be generated.
func (c *Config) KeyMaterial() (key pattern.Key, supplied bool, err error) {
	if strings.TrimSpace(c.Key) == "" {
		return key, false, nil
	}
	key, err = pattern.ParseKey(c.Key)
	if err != nil {
		return key, true, &ConfigError{Err: fmt.Errorf("invalid key: %w", err)}
	}
	return key, true, nil
}

// parseSize accepts plain byte counts and K, M, G suffixes (powers of 1024).
func parseSize(s string) (uint64, error) {
	ss := strings.TrimSpace(strings.ToLower(s))
	if ss == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := uint64(1)
	switch {
	case strings.HasSuffix(ss, "k"):
		mult = 1024
		ss = strings.TrimSuffix(ss, "k")
	case strings.HasSuffix(ss, "m"):
		mult = 1024 * 1024
		ss = strings.TrimSuffix(ss, "m")
	case strings.HasSuffix(ss, "g"):
		mult = 1024 * 1024 * 1024
		ss = strings.TrimSuffix(ss, "g")
	case strings.HasSuffix(ss, "b"):
		ss = strings.TrimSuffix(ss, "b")
	}
	if isDigits(ss) {
		n, err := strconv.ParseUint(ss, 10, 64)
		if err != nil {
			return 0, errSizeRange
		}
		hi, lo := bits.Mul64(n, mult)
		if hi != 0 {
			return 0, errSizeRange
		}
		return lo, nil
	}
	f, err := strconv.ParseFloat(ss, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("negative size")
	}
	f *= float64(mult)
	// 2^64 is the first float64 that does not fit
	if math.IsInf(f, 0) || math.IsNaN(f) || f >= 1<<64 {
		return 0, errSizeRange
	}
	return uint64(f), nil
}
