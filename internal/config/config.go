// Package config loads tikzserve settings.
//
// Settings come from three layers, later layers winning:
//
//  1. Built-in defaults (see Default)
//  2. An optional TOML file (first config.toml found in ConfigDirs)
//  3. TIKZSERVE_* environment variables
//
// Command-line flags are applied on top by the CLI.
//
// Example config.toml:
//
//	cache_dir      = "/var/cache/tikzserve"
//	render_timeout = "20s"
//	max_cache_size = "512 MB"
//	libraries      = ["amsmath", "tikz", "pgfplots"]
//
//	[binaries]
//	pdflatex = "/usr/local/texlive/bin/pdflatex"
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	gap "github.com/muesli/go-app-paths"

	"github.com/matzehuels/tikzserve/pkg/cache"
	"github.com/matzehuels/tikzserve/pkg/render"
)

// AppName names the config and cache directories.
const AppName = "tikzserve"

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "TIKZSERVE_"

// Defaults.
const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 8459
	DefaultCleanPeriod = time.Hour
	DefaultCleanExpiry = 2 * time.Hour
	DefaultMaxPasses   = 5
	DefaultRateBurst   = 16
)

// ByteSize is a size in bytes that reads human sizes such as "512 MB".
type ByteSize uint64

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || s == "0" {
		*b = 0
		return nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b ByteSize) String() string {
	if b == 0 {
		return "0"
	}
	return humanize.Bytes(uint64(b))
}

// Binaries names the toolchain executables.
type Binaries struct {
	PDFLaTeX   string `toml:"pdflatex" env:"PDFLATEX"`
	LaTeX      string `toml:"latex" env:"LATEX"`
	PDFToCairo string `toml:"pdftocairo" env:"PDFTOCAIRO"`
	PDF2SVG    string `toml:"pdf2svg" env:"PDF2SVG"`
	DVISVGM    string `toml:"dvisvgm" env:"DVISVGM"`
}

// Config holds all settings.
type Config struct {
	CacheDir string `toml:"cache_dir" env:"CACHE_DIR"`

	// Service
	Host      string  `toml:"host" env:"HOST"`
	Port      int     `toml:"port" env:"PORT"`
	RateLimit float64 `toml:"rate_limit" env:"RATE_LIMIT"` // renders per second, 0 = unlimited
	RateBurst int     `toml:"rate_burst" env:"RATE_BURST"`

	// Rendering
	RenderTimeout time.Duration `toml:"render_timeout" env:"RENDER_TIMEOUT"`
	Libraries     []string      `toml:"libraries" env:"LIBRARIES" envSeparator:","`
	RasterScale   int           `toml:"raster_scale" env:"RASTER_SCALE"`
	EmPointSize   int           `toml:"em_point_size" env:"EM_POINT_SIZE"`
	MaxPasses     int           `toml:"max_passes" env:"MAX_PASSES"`
	Binaries      Binaries      `toml:"binaries" envPrefix:"BIN_"`

	// Eviction
	CleanPeriod  time.Duration `toml:"clean_period" env:"CLEAN_PERIOD"`
	CleanExpiry  time.Duration `toml:"clean_expiry" env:"CLEAN_EXPIRY"`
	MaxCacheSize ByteSize      `toml:"max_cache_size" env:"MAX_CACHE_SIZE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CacheDir:      DefaultCacheDir(),
		Host:          DefaultHost,
		Port:          DefaultPort,
		RateBurst:     DefaultRateBurst,
		RenderTimeout: render.DefaultTimeout,
		Libraries:     append([]string(nil), render.DefaultLibraries...),
		RasterScale:   render.DefaultRasterScale,
		EmPointSize:   render.DefaultEmPointSize,
		MaxPasses:     DefaultMaxPasses,
		CleanPeriod:   DefaultCleanPeriod,
		CleanExpiry:   DefaultCleanExpiry,
	}
}

// Load reads the config file at path and applies environment overrides.
// An empty path means DefaultPath, which may be missing; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		switch {
		case err == nil:
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				return nil, fmt.Errorf("%s: unknown keys %v", path, undecoded)
			}
		case !explicit && errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.CacheDir == "" {
		errs = append(errs, errors.New("cache_dir must be set"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be in 1..65535, got %d", c.Port))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative, got %v", c.RateLimit))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("rate_burst must be at least 1, got %d", c.RateBurst))
	}
	if c.RenderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("render_timeout must be positive, got %s", c.RenderTimeout))
	}
	if c.RasterScale < 1 {
		errs = append(errs, fmt.Errorf("raster_scale must be at least 1, got %d", c.RasterScale))
	}
	if c.EmPointSize < 1 {
		errs = append(errs, fmt.Errorf("em_point_size must be at least 1, got %d", c.EmPointSize))
	}
	if c.MaxPasses < 1 {
		errs = append(errs, fmt.Errorf("max_passes must be at least 1, got %d", c.MaxPasses))
	}
	if c.CleanPeriod <= 0 {
		errs = append(errs, fmt.Errorf("clean_period must be positive, got %s", c.CleanPeriod))
	}
	if c.CleanExpiry <= 0 {
		errs = append(errs, fmt.Errorf("clean_expiry must be positive, got %s", c.CleanExpiry))
	}
	for _, lib := range c.Libraries {
		if lib == "" || strings.ContainsAny(lib, "{},\\") {
			errs = append(errs, fmt.Errorf("invalid library name %q", lib))
		}
	}
	return errors.Join(errs...)
}

// Addr returns the service listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RegistryOptions returns the format scale settings.
func (c *Config) RegistryOptions() render.RegistryOptions {
	return render.RegistryOptions{
		RasterScale: c.RasterScale,
		EmPointSize: c.EmPointSize,
	}
}

// RenderOptions returns invoker options. Logger and executor are left to the
// caller.
func (c *Config) RenderOptions() render.Options {
	return render.Options{
		Libraries: c.Libraries,
		Timeout:   c.RenderTimeout,
		Binaries: render.Binaries{
			PDFLaTeX:   c.Binaries.PDFLaTeX,
			LaTeX:      c.Binaries.LaTeX,
			PDFToCairo: c.Binaries.PDFToCairo,
			PDF2SVG:    c.Binaries.PDF2SVG,
			DVISVGM:    c.Binaries.DVISVGM,
		},
	}
}

// EvictionPolicy returns the size policy when a cache budget is set and the
// age policy otherwise.
func (c *Config) EvictionPolicy() cache.Policy {
	if c.MaxCacheSize > 0 {
		return cache.SizePolicy{Expiry: c.CleanExpiry, MaxBytes: int64(c.MaxCacheSize)}
	}
	return cache.AgePolicy{Expiry: c.CleanExpiry}
}

// =============================================================================
// Paths
// =============================================================================

// ConfigFile is the config file name looked up in the config directories.
const ConfigFile = "config.toml"

func scope() *gap.Scope { return gap.NewScope(gap.User, AppName) }

// DefaultCacheDir returns the cache directory using the XDG standard
// (~/.cache/tikzserve/ on Linux, the platform cache dir elsewhere). It falls
// back to the system temp dir.
func DefaultCacheDir() string {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, AppName)
	}
	if dir, err := scope().CacheDir(); err == nil && dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), AppName)
}

// ConfigDirs returns the directories searched for ConfigFile, most specific
// first: $XDG_CONFIG_HOME/tikzserve when set, then the user and system
// config directories of the platform.
func ConfigDirs() []string {
	var dirs []string
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append(dirs, filepath.Join(c, AppName))
	}
	if more, err := scope().ConfigDirs(); err == nil {
		dirs = append(dirs, more...)
	}
	return dirs
}

// DefaultPath returns the first existing config file in ConfigDirs, or the
// location in the most specific directory when none exists. It returns ""
// when no config directory can be determined.
func DefaultPath() string {
	dirs := ConfigDirs()
	for _, dir := range dirs {
		p := filepath.Join(dir, ConfigFile)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(dirs) == 0 {
		return ""
	}
	return filepath.Join(dirs[0], ConfigFile)
}
