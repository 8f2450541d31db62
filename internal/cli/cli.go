// Package cli implements the tikzserve command-line interface.
//
// # Commands
//
//   - compile: replace TikZ/TeX script elements in HTML files with inline images
//   - serve: run the HTTP render service
//   - cache: clean, clear, locate and inspect the render cache
//   - formats: list the output formats
//
// Every command reads the optional config file (--config) and TIKZSERVE_*
// environment overrides; flags given on the command line win over both.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/tikzserve/internal/config"
	"github.com/matzehuels/tikzserve/pkg/buildinfo"
	"github.com/matzehuels/tikzserve/pkg/cache"
	"github.com/matzehuels/tikzserve/pkg/pipeline"
	"github.com/matzehuels/tikzserve/pkg/render"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = config.AppName

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string

	// renderer replaces the toolchain invoker when set.
	renderer pipeline.Renderer
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "tikzserve renders TikZ and TeX snippets to images",
		Long: `tikzserve compiles TikZ and TeX snippets embedded in HTML to PNG or SVG images,
either ahead of time (compile) or on demand over HTTP (serve). Rendered images
are cached on disk by content hash.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default "+config.DefaultPath()+")")

	root.AddCommand(c.compileCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.formatsCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Runner Factory
// =============================================================================

func (c *CLI) loadConfig() (*config.Config, error) {
	return config.Load(c.configPath)
}

// openStore opens the file cache, or a pass-through store when caching is off.
func (c *CLI) openStore(cfg *config.Config, noCache bool) (cache.Store, error) {
	if noCache {
		return cache.NewNullStore(), nil
	}
	return c.openFileStore(cfg)
}

func (c *CLI) openFileStore(cfg *config.Config) (*cache.FileStore, error) {
	return cache.NewFileStore(cfg.CacheDir, cache.WithLogger(c.Logger))
}

// newRunner creates a pipeline runner over store using the configured
// toolchain.
func (c *CLI) newRunner(cfg *config.Config, store cache.Store) (*pipeline.Runner, error) {
	registry := render.NewRegistry(cfg.RegistryOptions())

	renderer := c.renderer
	if renderer == nil {
		opts := cfg.RenderOptions()
		opts.Logger = c.Logger
		inv, err := render.NewInvoker(registry, opts)
		if err != nil {
			return nil, err
		}
		renderer = inv
	}

	runner := pipeline.NewRunner(store, renderer, registry, c.Logger)
	runner.MaxPasses = cfg.MaxPasses
	return runner, nil
}
