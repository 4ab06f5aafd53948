package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/apiscope/internal/config"
	"github.com/dgnsrekt/apiscope/internal/controller"
	"github.com/dgnsrekt/apiscope/internal/describe"
	"github.com/dgnsrekt/apiscope/internal/storage"
)

var (
	version = "0.1.0"

	cfg *config.Config

	// Docs flags
	docsOut      string
	docsVersion  int
	docsDescribe bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "apiscope",
		Short: "apiscope - capture proxied traffic and document the APIs behind it",
		Long: `apiscope routes browser traffic to a destination through a rewriting proxy,
captures every HTTP and WebSocket exchange, and derives endpoint patterns,
schemas and documentation from what it saw.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			return setupLogger(cfg.LogLevel, cfg.LogFile)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control API, proxy gateway and WebSocket tunnel",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [proxy-id]",
		Short: "Rebuild discovered endpoints from captured calls",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}

	docsCmd := &cobra.Command{
		Use:   "docs [proxy-id]",
		Short: "Generate documentation, or export a stored version",
		Long: `Generate a new documentation version from the discovered endpoints.
With --version the stored version is used instead. With --out the
Markdown, OpenAPI (JSON and YAML) and TypeScript artifacts are written
to that directory; otherwise the Markdown is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: runDocs,
	}
	docsCmd.Flags().StringVarP(&docsOut, "out", "o", "", "Directory to export artifacts into")
	docsCmd.Flags().IntVar(&docsVersion, "version", 0, "Export a stored version instead of generating")
	docsCmd.Flags().BoolVar(&docsDescribe, "describe", false, "Fill in endpoint descriptions before rendering")

	proxyCmd := &cobra.Command{
		Use:   "proxy",
		Short: "Manage proxy identifiers",
	}
	proxyCmd.AddCommand(
		&cobra.Command{
			Use:   "add [name] [destination-url]",
			Short: "Register a destination",
			Args:  cobra.ExactArgs(2),
			RunE:  runProxyAdd,
		},
		&cobra.Command{
			Use:   "list",
			Short: "List proxies",
			Args:  cobra.NoArgs,
			RunE:  runProxyList,
		},
		&cobra.Command{
			Use:   "status [proxy-id] [active|inactive]",
			Short: "Activate or deactivate a proxy",
			Args:  cobra.ExactArgs(2),
			RunE:  runProxyStatus,
		},
		&cobra.Command{
			Use:   "remove [proxy-id]",
			Short: "Delete a proxy with its captured traffic",
			Args:  cobra.ExactArgs(1),
			RunE:  runProxyRemove,
		},
	)

	rootCmd.AddCommand(serveCmd, analyzeCmd, docsCmd, proxyCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}

// openService opens the database and builds a control service without
// live capture collaborators, for the offline commands.
func openService() (*controller.Service, *storage.BoltStore, error) {
	pol, err := cfg.Policy()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewBoltStore(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	svc := controller.NewService(store, pol, controller.Options{
		Describer: describe.New(cfg.DescribeURL, cfg.DescribeTimeout(), nil),
		MaxCalls:  cfg.AnalysisMaxCalls,
	})
	return svc, store, nil
}
