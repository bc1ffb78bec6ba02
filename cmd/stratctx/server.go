package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/stratctx/internal/api"
	"github.com/kalambet/stratctx/internal/backup"
	"github.com/kalambet/stratctx/internal/config"
	"github.com/kalambet/stratctx/internal/ollama"
	"github.com/kalambet/stratctx/internal/search"
	"github.com/kalambet/stratctx/internal/sessionctx"
	"github.com/kalambet/stratctx/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the stratctx server (foreground)",
	Long: `Start the stratctx server in the foreground.

On start the most recent open session is resumed when it was backed up
recently enough and its context quality is high enough; otherwise a new
session is started. The session is backed up on the configured cron
schedule and closed with a final backup on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running stratctx server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stratctx status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", true, "serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "stratctx.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// newEmbedder returns the configured embedder. An unavailable Ollama falls
// back to the feature embedder.
func newEmbedder(ctx context.Context, cfg config.Config) search.Embedder {
	if cfg.Search.Embedder != config.EmbedderOllama {
		return search.FeatureEmbedder{}
	}
	client := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureModel(ctx, client, cfg.Ollama.EmbedModel, slog.Default()); err != nil {
		printWarning("ollama embedder unavailable, using feature embedder: %v", err)
		return search.FeatureEmbedder{}
	}
	slog.Info("using ollama embedder", "model", cfg.Ollama.EmbedModel)
	return ollama.NewEmbedder(client, cfg.Ollama.EmbedModel)
}

// resumeOrStart adopts a recoverable session or closes any abandoned ones
// and starts a new session.
func resumeOrStart(ctx context.Context, m *sessionctx.Manager, sessionType string) (string, sessionctx.Recovery, error) {
	rec := m.RecoverSession(ctx)
	if rec.Recovered {
		return rec.SessionID, rec, nil
	}
	m.CloseAbandonedSessions(ctx)
	id, err := m.StartSession(ctx, sessionType)
	if err != nil {
		return "", rec, fmt.Errorf("starting session: %w", err)
	}
	return id, rec, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "stratctx version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("stratctx is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("stratctx is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(storage.Options{DataDir: cfg.Storage.DataDir, SchemaFile: cfg.Storage.SchemaFile})
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	manager := sessionctx.NewManager(store, sessionctx.Options{
		Policy: &sessionctx.RestartPolicy{Window: cfg.Recovery.Window, MinQuality: cfg.Recovery.MinQuality},
	})

	engine := search.NewEngine(store.DB(), search.Options{
		Embedder:     newEmbedder(ctx, cfg),
		CacheSize:    cfg.Search.CacheSize,
		MaxQueryTime: cfg.Search.MaxQueryTime,
		MaxResults:   cfg.Search.MaxResults,
		MinRelevance: &cfg.Search.MinRelevance,
	})
	engine.Connect(ctx)

	sessionID, rec, err := resumeOrStart(ctx, manager, cfg.Session.Type)
	if err != nil {
		return err
	}
	if rec.Recovered {
		printSuccess("Resumed session %s", sessionID)
	} else {
		printStep("Started session %s", sessionID)
	}
	fmt.Fprintln(os.Stderr, rec.Prompt)

	worker, err := backup.NewWorker(manager, sessionID, backup.Options{Schedule: cfg.Session.BackupSchedule})
	if err != nil {
		return err
	}
	go worker.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Sessions:           manager,
		Search:             engine,
		Backup:             worker,
		Token:              cfg.Server.APIToken,
		DefaultSessionType: cfg.Session.Type,
	})
	if cfg.Server.APIToken == "" {
		printWarning("STRATCTX_API_TOKEN is not set; the API is unauthenticated on localhost")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Sessions:           manager,
			Search:             engine,
			DefaultSessionType: cfg.Session.Type,
			Version:            version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "stratctx listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if err := worker.Shutdown(shutdownCtx); err != nil {
		slog.Error("closing session", "session_id", sessionID, "error", err)
	}
	return serveErr
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("stratctx is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop stratctx (PID %d): %v", pid, err)
		os.Remove(pidPath)
		return err
	}

	printSuccess("Sent stop signal to stratctx (PID %d)", pid)
	return nil
}

type statusReport struct {
	Server   string             `json:"server"`
	Backup   *backup.Status     `json:"backup,omitempty"`
	Embedder string             `json:"embedder"`
	Ollama   string             `json:"ollama,omitempty"`
	Cache    *search.CacheStats `json:"cache,omitempty"`
	DataDir  string             `json:"data_dir"`
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	report := statusReport{Server: "stopped", Embedder: cfg.Search.Embedder, DataDir: cfg.Storage.DataDir}
	client, err := newAPIClient()
	if err == nil {
		var health struct {
			Status string         `json:"status"`
			Backup *backup.Status `json:"backup"`
		}
		if err := client.call(ctx, http.MethodGet, "/health", nil, &health); err == nil {
			report.Server = fmt.Sprintf("running on port %d", cfg.Server.Port)
			report.Backup = health.Backup
			var stats search.CacheStats
			if client.call(ctx, http.MethodGet, "/search/cache", nil, &stats) == nil {
				report.Cache = &stats
			}
		}
	}
	if cfg.Search.Embedder == config.EmbedderOllama {
		report.Ollama = "not running"
		if ollama.New(cfg.Ollama.BaseURL).IsRunning(ctx) {
			report.Ollama = "running at " + cfg.Ollama.BaseURL
		}
	}

	if ok, err := emit(report); ok {
		return err
	}
	printStatus("Server", "%s", report.Server)
	if b := report.Backup; b != nil {
		printStatus("Session", "%s", b.SessionID)
		printStatus("Backups", "%d runs, %d failed (schedule %q)", b.Runs, b.Failures, b.Schedule)
		if !b.NextRun.IsZero() {
			printStatus("Next backup", "%s", b.NextRun.Local().Format(time.RFC3339))
		}
	}
	printStatus("Embedder", "%s", report.Embedder)
	if report.Ollama != "" {
		printStatus("Ollama", "%s", report.Ollama)
	}
	if c := report.Cache; c != nil {
		printStatus("Embedding cache", "%d entries, %d hits, %d misses", c.Size, c.Hits, c.Misses)
	}
	printStatus("Data dir", "%s", report.DataDir)
	return nil
}
