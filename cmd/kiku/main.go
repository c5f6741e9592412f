// Package main is the Kiku CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/cli"
	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/inbox"
	"github.com/hyperjump/kiku/internal/ingest"
	"github.com/hyperjump/kiku/internal/llm"
	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/qa"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/internal/server"
	"github.com/hyperjump/kiku/internal/session"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kiku/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if present; when neither exists the built-in defaults are
// used. A .env file in the current directory and KIKU_* variables are applied last.
// Returns the config and the path that was loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	_ = godotenv.Load()

	cfg, resolved, err := readConfig(path)
	if err != nil {
		return nil, "", err
	}
	config.ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

func readConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "upload":
		runUpload()
	case "ask":
		runAsk()
	case "sessions":
		runSessions()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kiku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.String("embedding_provider", cfg.Embedding.Provider),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if _, err := ingest.SweepTempFiles(cfg.Ingest.TempDir, logger); err != nil {
		logger.Warn("failed to sweep upload temp files", zap.String("dir", cfg.Ingest.TempDir), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Inbox.Directory != "" {
		box := inbox.New(cfg.Inbox.Directory, components.Ingester,
			inbox.WithLogger(logger), inbox.WithDebounce(cfg.Inbox.Debounce))
		if err := box.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox", zap.String("dir", cfg.Inbox.Directory), zap.Error(err))
		}
		defer box.Stop()
		go box.SyncExisting(ctx)
	}

	srv := server.NewServer(server.Options{
		Config:   cfg,
		Uploader: components.Ingester,
		Asker:    components.Engine,
		Registry: components.Registry,
		Ledger:   components.Ledger,
		Metrics:  components.Metrics,
		Logger:   logger,
	})
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("Server did not shut down cleanly", zap.Error(err))
	}
}

// argsReorder moves flags that appear after positional arguments to the front so
// that flag.Parse sees them; "kiku ask what is due --session lease" would otherwise
// leave --session unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuestion joins positional args so questions work with or without quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func outputFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	serverURL := fs.String("server", cli.DefaultServerURL, "server URL")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := outputFormat(*output)

	if fs.NArg() < 1 {
		fmt.Println("Usage: kiku upload [flags] <file.pdf>")
		os.Exit(1)
	}
	resp, err := cli.NewClient(*serverURL).Upload(context.Background(), fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteUpload(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	serverURL := fs.String("server", cli.DefaultServerURL, "server URL")
	sessionID := fs.String("session", "", "session id returned by upload")
	sources := fs.Bool("sources", false, "include the retrieved chunks in the output")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := outputFormat(*output)

	question := buildQuestion(fs.Args())
	if question == "" || *sessionID == "" {
		fmt.Println("Usage: kiku ask --session <id> [flags] <question>")
		os.Exit(1)
	}
	resp, err := cli.NewClient(*serverURL).Ask(context.Background(), &models.AskRequest{
		Question:       question,
		SessionID:      *sessionID,
		IncludeSources: *sources,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteAnswer(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runSessions() {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	serverURL := fs.String("server", cli.DefaultServerURL, "server URL")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := outputFormat(*output)

	ids, err := cli.NewClient(*serverURL).Sessions(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sessions failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSessions(os.Stdout, ids, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", cli.DefaultServerURL, "server URL")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := outputFormat(*output)

	status, err := cli.NewClient(*serverURL).Status(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Metrics  *metrics.Metrics
	Embedder embedding.Embedder
	Builder  *rag.Builder
	Registry *session.Registry
	Ledger   storage.Ledger // nil when the database cannot be opened
	Ingester *ingest.Ingester
	Engine   *qa.Engine
}

func (c *Components) Close() {
	if c.Builder != nil {
		c.Builder.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Ledger != nil {
		_ = c.Ledger.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{
		Metrics:  metrics.New(),
		Registry: session.NewRegistry(),
	}

	embedder, err := embedding.New(cfg.Embedding, cfg.Ingest.EmbedBatchSize, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	model, err := llm.New(cfg.LLM)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize llm: %w", err)
	}

	builder, err := rag.NewBuilder(rag.BuilderOptions{
		Embedder:    embedder,
		Model:       model,
		TopK:        cfg.LLM.TopK,
		Temperature: cfg.LLM.TemperatureOrDefault(),
		Workers:     cfg.Ingest.EmbedWorkers,
		BatchSize:   cfg.Ingest.EmbedBatchSize,
		Logger:      logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize pipeline builder: %w", err)
	}
	c.Builder = builder

	ingestOpts := []ingest.Option{ingest.WithLogger(logger), ingest.WithMetrics(c.Metrics)}
	ledger, err := storage.NewSQLiteLedger(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Warn("session ledger disabled", zap.String("path", cfg.Storage.DatabasePath), zap.Error(err))
	} else {
		c.Ledger = ledger
		ingestOpts = append(ingestOpts, ingest.WithLedger(ledger))
	}

	c.Ingester = ingest.NewIngester(cfg.Ingest, builder, c.Registry, ingestOpts...)
	c.Engine = qa.NewEngine(c.Registry, cfg.LLM.Timeout, c.Metrics, logger)
	return c, nil
}

func printUsage() {
	fmt.Println(`kiku - Ask questions about your PDFs

Usage:
  kiku server [flags]                      Start the HTTP server
  kiku upload [flags] <file.pdf>           Upload a PDF and create a session
  kiku ask --session <id> [flags] <text>   Ask a question about an uploaded PDF
  kiku sessions [flags]                    List sessions
  kiku status [flags]                      Show server status
  kiku version                             Show version
  kiku help                                Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kiku/config.yaml)
  --debug            Enable debug logging

Client Flags (upload, ask, sessions, status):
  --server string    Server URL (default: http://localhost:8000)
  --output string    Output format: text or json (default: text)

Ask Flags:
  --session string   Session id returned by upload (required)
  --sources          Include retrieved chunks in the output

Environment:
  KIKU_HOST, KIKU_PORT, KIKU_DEBUG, KIKU_LLM_URL, KIKU_LLM_MODEL,
  KIKU_EMBEDDING_PROVIDER, KIKU_INBOX_DIR (also read from ./.env)

Examples:
  kiku server
  kiku upload lease.pdf
  kiku ask --session lease When is rent due?
  kiku ask --session lease --sources --output json "How much is the deposit?"
  kiku sessions
  kiku status --output json`)
}
