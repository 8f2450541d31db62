package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/tikzserve/internal/config"
	"github.com/matzehuels/tikzserve/internal/server"
	"github.com/matzehuels/tikzserve/pkg/cache"
)

// serveOpts holds the command-line flags for the serve command. Zero values
// leave the configured setting in place.
type serveOpts struct {
	host      string
	port      int
	cacheDir  string
	noMetrics bool
}

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var opts serveOpts

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP render service",
		Long: `Serve renders snippets posted to /{format} and answers with the image.

Include /tikz.js in a page to have its snippets rendered by the service. The
cache is cleaned on a timer and opportunistically before requests; GET /clean
forces a clean.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "listen host (default "+config.DefaultHost+")")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, fmt.Sprintf("listen port (default %d)", config.DefaultPort))
	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", "", "cache directory")
	cmd.Flags().BoolVar(&opts.noMetrics, "no-metrics", false, "disable the /metrics endpoint")

	return cmd
}

func (c *CLI) runServe(cmd *cobra.Command, opts serveOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if opts.host != "" {
		cfg.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Port = opts.port
	}
	if opts.cacheDir != "" {
		cfg.CacheDir = opts.cacheDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := c.openFileStore(cfg)
	if err != nil {
		return err
	}
	runner, err := c.newRunner(cfg, store)
	if err != nil {
		return err
	}
	defer runner.Close()

	evictor := cache.NewEvictor(store, cfg.EvictionPolicy(),
		cache.WithInterval(cfg.CleanPeriod),
		cache.WithEvictorLogger(logger))

	var metrics *server.Metrics
	if !opts.noMetrics {
		metrics = server.NewMetrics()
		metrics.Install()
	}

	srv, err := server.New(server.Options{
		Runner:    runner,
		Evictor:   evictor,
		Logger:    logger,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	go evictor.Run(ctx)

	logger.Info("starting render service",
		"cache", store.Dir(),
		"policy", evictor.Policy().Name(),
		"formats", runner.Registry.Names())
	return srv.ListenAndServe(ctx, cfg.Addr())
}
