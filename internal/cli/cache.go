package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/matzehuels/tikzserve/pkg/cache"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the render cache",
	}

	cmd.AddCommand(c.cacheCleanCommand())
	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())
	cmd.AddCommand(c.cacheStatsCommand())

	return cmd
}

// cacheCleanCommand creates the "cache clean" subcommand.
func (c *CLI) cacheCleanCommand() *cobra.Command {
	var expiry time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove expired cache entries",
		Long: `Clean runs the configured eviction policy once, ignoring the clean period.
Entries not used within the clean expiry are removed; with max_cache_size set,
the oldest expired entries are removed until the cache fits the budget.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if expiry > 0 {
				cfg.CleanExpiry = expiry
			}
			store, err := c.openFileStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			evictor := cache.NewEvictor(store, cfg.EvictionPolicy(),
				cache.WithEvictorLogger(loggerFromContext(cmd.Context())))
			removed, _, err := evictor.Clean(cmd.Context(), true)
			if err != nil {
				return err
			}

			if len(removed) == 0 {
				printInfo("Nothing to clean")
				return nil
			}
			printSuccess("Removed %d cache entries", len(removed))
			for _, name := range removed {
				printFile(name)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&expiry, "expiry", 0, "remove entries unused for this long (default from config)")
	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := c.openFileStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Entries()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				printInfo("Cache is empty")
				return nil
			}

			count := 0
			var freed int64
			for _, e := range entries {
				if err := store.Remove(e.Name); err != nil {
					printWarning("%s: %v", e.Name, err)
					continue
				}
				count++
				freed += e.Size
			}
			store.RemoveStaleTemps(0)

			printSuccess("Cleared %d cache entries (%s)", count, humanize.Bytes(uint64(freed)))
			printDetail("Directory: %s", store.Dir())
			return nil
		},
	}
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.CacheDir)
			return nil
		},
	}
}

// cacheStatsCommand creates the "cache stats" subcommand.
func (c *CLI) cacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := c.openFileStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Entries()
			if err != nil {
				return err
			}
			st := summarizeEntries(entries)

			printKeyValue("Directory", store.Dir())
			printKeyValue("Entries", humanize.Comma(int64(st.count)))
			printKeyValue("Size", humanize.Bytes(uint64(st.size)))
			if st.count > 0 {
				printKeyValue("Oldest", humanize.Time(st.oldest))
				printKeyValue("Newest", humanize.Time(st.newest))
			}
			printKeyValue("Policy", cfg.EvictionPolicy().Name())
			printKeyValue("Expiry", cfg.CleanExpiry.String())
			if cfg.MaxCacheSize > 0 {
				printKeyValue("Budget", cfg.MaxCacheSize.String())
			}
			return nil
		},
	}
}

type entryStats struct {
	count          int
	size           int64
	oldest, newest time.Time
}

func summarizeEntries(entries []cache.Entry) entryStats {
	st := entryStats{count: len(entries)}
	for i, e := range entries {
		st.size += e.Size
		if i == 0 || e.ModTime.Before(st.oldest) {
			st.oldest = e.ModTime
		}
		if i == 0 || e.ModTime.After(st.newest) {
			st.newest = e.ModTime
		}
	}
	return st
}
