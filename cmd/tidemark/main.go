package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tidemark/internal/config"
	"tidemark/internal/logging"
	"tidemark/internal/metrics"
	"tidemark/internal/ops"
	"tidemark/internal/purge"
	"tidemark/internal/store/bookstore"
	"tidemark/internal/syncer"
	"tidemark/internal/xclient"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "tidemark",
	Short: "Local replica of your remote bookmarks, kept in sync",
	Long: `tidemark maintains a local, queryable replica of your remote bookmark
collection. It fetches pages from the remote API into an indexed SQLite
store and can delete bookmarks remotely in bulk.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./tidemark.yaml", "config file path")
	rootCmd.AddCommand(initCmd, syncCmd, listCmd, tagCmd, authorCmd, getCmd, deleteCmd, purgeCmd, statsCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app wires the service from config. Every subcommand except init goes
// through here.
type app struct {
	cfg   config.Config
	lg    *zap.Logger
	store *bookstore.Store
	svc   *ops.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	lg := logging.New(cfg.Logging.Level, cfg.Logging.Pretty)
	metrics.StartServer(cfg.Metrics.Addr)

	store, err := bookstore.Open(cfg.Storage.DBPath, lg, bookstore.Options{
		SlowOp:  time.Duration(cfg.Storage.SlowOpMs) * time.Millisecond,
		MaxTags: cfg.Storage.MaxTags,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Init(context.Background()); err != nil {
		_ = store.Close()
		return nil, err
	}

	creds := xclient.StaticCredentials{
		Bearer: cfg.Credentials.BearerToken,
		CSRF:   cfg.Credentials.CSRFToken,
	}
	client := xclient.NewClient(creds, lg)
	sync := syncer.New(client, store, cfg.Sync, lg)
	purger := purge.New(client, store, lg)

	return &app{
		cfg:   cfg,
		lg:    lg,
		store: store,
		svc:   ops.NewService(store, sync, purger),
	}, nil
}

func (a *app) close() {
	_ = a.store.Close()
	_ = a.lg.Sync()
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(cfgPath, config.Default()); err != nil {
			return err
		}
		abs, _ := filepath.Abs(cfgPath)
		fmt.Println("Config written to:", abs)
		return nil
	},
}

var syncDelta bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass against the remote bookmarks API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		resp := a.svc.StartSync(cmd.Context(), syncDelta)
		printJSON(resp)
		if !resp.Success {
			return fmt.Errorf("sync failed: %s", resp.Error)
		}
		return nil
	},
}

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent bookmarks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		resp := a.svc.GetRecentBookmarks(cmd.Context(), listLimit)
		printJSON(resp)
		return nil
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag <tag>",
	Short: "List bookmarks carrying a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		printJSON(a.svc.GetBookmarksByTag(cmd.Context(), args[0]))
		return nil
	},
}

var authorCmd = &cobra.Command{
	Use:   "author <handle>",
	Short: "List bookmarks by author handle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		printJSON(a.svc.GetBookmarksByAuthor(cmd.Context(), args[0]))
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one bookmark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		printJSON(a.svc.GetBookmark(cmd.Context(), args[0]))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one bookmark from the local store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		printJSON(a.svc.DeleteBookmark(cmd.Context(), args[0]))
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge <id> [id...]",
	Short: "Delete bookmarks locally and remotely, in batches",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		resp := a.svc.BulkDelete(cmd.Context(), args, purge.Options{
			BatchSize:  a.cfg.Delete.BatchSize,
			BatchDelay: time.Duration(a.cfg.Delete.BatchDelayMs) * time.Millisecond,
			OnProgress: func(completed, total, failed int) {
				a.lg.Info("purge progress",
					zap.Int("completed", completed),
					zap.Int("total", total),
					zap.Int("failed", failed))
			},
		})
		printJSON(resp)
		if !resp.Success {
			return fmt.Errorf("purge finished with %d failures", resp.Summary.Failed)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store counts and schema state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		printJSON(a.svc.GetStats(cmd.Context()))
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncDelta, "delta", false, "delta mode: smaller fetch batches")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "max bookmarks to list")
}
