package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/chunkfile"
	"github.com/hyperjump/kensaku/internal/server"
	"github.com/hyperjump/kensaku/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP API. Directories listed under watch.directories are watched
for <collection>.jsonl drop files; each file replaces the chunks of the
collection it is named after.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	c, resolvedConfigPath, err := openComponents()
	if err != nil {
		return err
	}
	defer c.Close()
	logger := c.Logger

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", c.Config.Debug || debugFlag),
	)

	watchSvc := watcher.NewWatcher(
		c.Config.Watch.Directories,
		func(collectionID, path string) { syncDropFile(c, collectionID, path) },
		func(collectionID, path string) {
			if err := c.Indexer.DeleteCollection(context.Background(), collectionID); err != nil {
				logger.Warn("watch delete collection failed", zap.String("path", path), zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
		watcher.WithDebounce(c.Config.Watch.Debounce),
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		return err
	}
	defer watchSvc.Stop()
	watchSvc.SyncExisting()

	srv := server.NewServer(c.Engine, c.Indexer, &c.Config.Server, logger,
		server.WithWatch(watchSvc, resolvedConfigPath, c.Config))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		return err
	}

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

// syncDropFile replaces a collection's chunks with the contents of a drop file.
func syncDropFile(c *Components, collectionID, path string) {
	logger := c.Logger.With(zap.String("collection_id", collectionID), zap.String("path", path))
	chunks, err := chunkfile.Load(path, c.Splitter)
	if err != nil {
		logger.Warn("drop file unreadable", zap.Error(err))
		return
	}
	if len(chunks) == 0 {
		logger.Debug("drop file empty, skipped")
		return
	}
	if err := c.Indexer.ReplaceChunks(context.Background(), collectionID, chunks); err != nil {
		logger.Warn("drop file import failed", zap.Error(err))
		return
	}
	logger.Info("drop file imported", zap.Int("chunks", len(chunks)))
}
