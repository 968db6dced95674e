package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/docindex/internal/config"
	"github.com/jcdickinson/docindex/internal/server"
)

const version = "0.1.0"

var debug bool

var rootCmd = &cobra.Command{
	Use:     "docindex",
	Short:   "Build and serve rustdoc search indexes",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose log output")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored indexes over HTTP",
	Long: `Serve stored indexes over HTTP:

  GET    /search-index.js[?crate=NAME...]
  GET    /crates
  GET    /crates/{name}
  GET    /crates/{name}/search-index.js
  DELETE /crates/{name}
  GET    /find?q=TEXT[&crate=NAME][&kind=KIND][&limit=N]
  POST   /build   {"crates":[{"name":"serde","version":"1.0.0"}]}`,
	Run: runServe,
}

var (
	serveAddr string
	serveLog  bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config serve.addr)")
	serveCmd.Flags().BoolVar(&serveLog, "log", false, "write logs to the log file instead of stderr (see `docindex logs`)")
}

func runServe(cmd *cobra.Command, args []string) {
	if serveLog {
		logPath := config.LogPath()
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			slog.Error("failed to create log directory", "error", err)
			os.Exit(1)
		}
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			slog.Error("failed to open log file", "error", err)
			os.Exit(1)
		}
		defer logFile.Close()
		slog.SetDefault(slog.New(slog.NewTextHandler(logFile, nil)))
	}

	st := openStore()
	defer st.Close()

	addr := serveAddr
	if addr == "" {
		addr = st.cfg.Serve.Addr
	}
	srv := server.NewServer(st.db, st.ix, addr)
	if err := srv.Listen(); err != nil {
		slog.Error("failed to listen", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	if err := waitForSignal(errCh); err != nil {
		log.Fatalf("server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
}

func waitForSignal(errCh chan error) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		slog.Info("received signal", "signal", sig)
		return nil
	case err := <-errCh:
		return err
	}
}
