package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/filesync"
	"github.com/jivedev/jive/internal/rpc"
	"github.com/jivedev/jive/internal/telemetry"
)

var (
	socketPath string
	watchFiles bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the jive daemon",
	Long: "Starts the unix-socket tool server. With --watch, task files under\n" +
		"the tasks root are synced into the store as they change.",
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&socketPath, "socket", "", "Socket path (default: .jivedev/jive.sock)")
	serveCmd.Flags().BoolVar(&watchFiles, "watch", false, "Watch the tasks root and sync changed files")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "jive", Version); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(sctx)
	}()

	c, err := openCoreWith(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	socket := socketPath
	if socket == "" {
		socket = filepath.Join(filepath.Dir(configPath()), "jive.sock")
	}
	if err := os.MkdirAll(filepath.Dir(socket), 0o755); err != nil {
		return err
	}

	server := rpc.NewServer(socket, c.Handlers, logger, cfg.StoreOpTimeout())
	if err := server.Start(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "jive daemon listening on %s\n", socket)

	if watchFiles {
		watcher := filesync.NewWatcher(cfg.TasksRoot, logger, func(path string) {
			content, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("watched file unreadable", zap.String("path", path), zap.Error(err))
				return
			}
			changed, err := c.Sync.Changed(ctx, path, content)
			if err != nil || !changed {
				return
			}
			result, err := c.Sync.FileToStore(ctx, path, content, filesync.FileToStoreOptions{
				Strategy: filesync.AutoMerge,
			})
			if err != nil {
				logger.Error("watch sync failed", zap.String("path", path), zap.Error(err))
				return
			}
			if result.Outcome != filesync.OutcomeSuccess {
				logger.Warn("watched file not synced",
					zap.String("path", path),
					zap.String("outcome", string(result.Outcome)),
					zap.Strings("errors", result.Errors))
			}
		})
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("file watcher stopped", zap.Error(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down")
	case <-server.Shutdown:
		fmt.Fprintln(os.Stderr, "shutdown requested by client")
	}
	return server.Stop()
}
