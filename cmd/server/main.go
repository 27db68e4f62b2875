// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	connectcors "connectrpc.com/cors"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/speakerq/internal/api/connect"
	"github.com/osa030/speakerq/internal/api/realtime"
	"github.com/osa030/speakerq/internal/api/web"
	"github.com/osa030/speakerq/internal/app/filter"
	"github.com/osa030/speakerq/internal/app/session"
	"github.com/osa030/speakerq/internal/infra/config"
	"github.com/osa030/speakerq/internal/infra/logger"
)

var (
	app        = kingpin.New("speakerq-server", "speakerq live speaker queue server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	logFormat  = app.Flag("log-format", "Log format for stdout: console or json").Default("console").Enum("console", "json")

	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	if err := start(); err != nil {
		os.Exit(1)
	}
}

// start initializes logging and runs the server. Errors are logged here,
// before the deferred log file close.
func start() error {
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
		Format: *logFormat,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		zlog.Error().Msgf("Failed to load config: %v", err)
		return err
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		return err
	}
	return nil
}

// loadConfig reads path, falling back to defaults when the file is absent.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		zlog.Warn().Msgf("Config file not found, using defaults: path=%s", path)
		return config.Default()
	}
	zlog.Info().Msgf("Loading config from %s", path)
	return config.Load(path)
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	sessionMgr, err := session.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	mux := http.NewServeMux()

	sessionPath, sessionHandler := apiconnect.NewSessionServiceHandler(
		apiconnect.NewSessionService(sessionMgr, cfg),
		connect.WithInterceptors(apiconnect.NewModeratorAuthInterceptor(sessionMgr, cfg)),
	)
	mux.Handle(sessionPath, sessionHandler)
	mux.Handle(realtime.Path, realtime.NewHandler(sessionMgr, cfg))
	web.Register(mux, sessionMgr, cfg)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           withCORS(cfg, h2c.NewHandler(mux, &http2.Server{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s origins=%s", cfg.Server.Addr, strings.Join(cfg.Origins(), ","))
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		sessionMgr.Close()
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	// Close session manager first to terminate active connections/streams
	zlog.Info().Msgf("Dropping in-memory sessions: count=%d", len(sessionMgr.SessionIDs()))
	sessionMgr.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// withCORS lets the browser frontends call the RPC service cross-origin.
func withCORS(cfg *config.Config, h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: cfg.Origins(),
		AllowedMethods: connectcors.AllowedMethods(),
		AllowedHeaders: append(connectcors.AllowedHeaders(), apiconnect.ModeratorSecretHeader),
		ExposedHeaders: append(connectcors.ExposedHeaders(), apiconnect.ErrorCodeHeader),
		MaxAge:         7200,
	}).Handler(h)
}

// printFilters prints available filters.
func printFilters() {
	printFiltersTo(os.Stdout)
}

func printFiltersTo(w io.Writer) {
	registered := filter.GetRegistered()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Available Filters:")
	for _, name := range names {
		f := registered[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Fprintf(w, "  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
