package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"assetcache/internal/cache"
	"assetcache/internal/imageprobe"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func keyFor(value string, nameKeyed bool) cache.Key {
	if nameKeyed {
		return cache.NameKey(value)
	}
	return cache.ContentKey(value)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache totals and limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := engine.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, stats)
			}

			fmt.Fprintf(out, "directory:   %s\n", engine.Dir())
			fmt.Fprintf(out, "files:       %d / %d\n", stats.TotalFiles, stats.MaxFiles)
			fmt.Fprintf(out, "bytes:       %d / %d\n", stats.TotalSize, stats.MaxCacheSize)
			if stats.Oldest != nil {
				fmt.Fprintf(out, "oldest:      %s (%s)\n", filepath.Base(stats.Oldest.CachedPath), stats.Oldest.CreatedAt.Format(time.RFC3339))
			}
			if stats.Newest != nil {
				fmt.Fprintf(out, "newest:      %s (%s)\n", filepath.Base(stats.Newest.CachedPath), stats.Newest.CreatedAt.Format(time.RFC3339))
			}
			if stats.MostAccessed != nil {
				fmt.Fprintf(out, "most used:   %s (%d hits)\n", filepath.Base(stats.MostAccessed.CachedPath), stats.MostAccessed.AccessCount)
			}
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List cached images, most recently used first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := engine.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, entries)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tMODE\tSIZE\tDIMENSIONS\tHITS\tLAST ACCESSED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%dx%d\t%d\t%s\n",
					filepath.Base(e.CachedPath), e.Mode, e.Size, e.Width, e.Height, e.AccessCount,
					e.LastAccessed.Local().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newPutCmd() *cobra.Command {
	var nameKeyed bool
	var key string

	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Add an image file to the cache",
		Long: `Add an image file to the cache.

By default the entry is content-keyed by the file's absolute path, so adding
the same path again is a cache hit. With --name-keyed the cached file keeps a
readable name derived from the file name.`,
		Example: `  cachectl put ~/Pictures/sunset.png
  cachectl put --name-keyed ~/Pictures/sunset.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			imageprobe.Startup(cfg.VipsConcurrency, cfg.VipsMaxCacheMB, log)
			defer imageprobe.Shutdown()

			meta, err := imageprobe.Probe(src)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(src)
			if err != nil {
				return fmt.Errorf("read %s: %w", src, err)
			}

			var path string
			if nameKeyed {
				if key == "" {
					key = filepath.Base(src)
				}
				path, err = engine.CacheImageWithOriginalName(cmd.Context(), key, data, meta)
			} else {
				if key == "" {
					key = src
				}
				path, err = engine.CacheImage(cmd.Context(), key, data, meta)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&nameKeyed, "name-keyed", false, "Keep a readable filename instead of a content hash")
	cmd.Flags().StringVar(&key, "key", "", "Override the cache key (path or filename)")
	return cmd
}

func newGetCmd() *cobra.Command {
	var nameKeyed bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Show the entry for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := engine.Get(cmd.Context(), keyFor(args[0], nameKeyed))
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("no cached image for %q", args[0])
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), entry)
			}
			fmt.Fprintln(cmd.OutOrStdout(), entry.CachedPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&nameKeyed, "name-keyed", false, "Look the key up as an original filename")
	return cmd
}

func newRmCmd() *cobra.Command {
	var nameKeyed bool

	cmd := &cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a cached image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := engine.Remove(cmd.Context(), keyFor(args[0], nameKeyed))
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no cached image for %q", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&nameKeyed, "name-keyed", false, "Look the key up as an original filename")
	return cmd
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <old-name> <new-name>",
		Short: "Rename a name-keyed cached image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := engine.Rename(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newExistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <name>",
		Short: "Check whether a filename is already used in the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exists, err := engine.FileNameExists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), exists)
			return nil
		},
	}
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := engine.ClearAll(cmd.Context())
			out := cmd.OutOrStdout()
			if jsonOutput {
				if printErr := printJSON(out, result); printErr != nil {
					return printErr
				}
			} else {
				fmt.Fprintf(out, "removed %d files\n", result.Removed)
				for _, path := range result.Failed {
					fmt.Fprintf(out, "failed: %s\n", path)
				}
			}
			return err
		},
	}
}
