// Travelr is a conversational itinerary assistant server.
//
// It exposes an authenticated HTTP API whose main surface is a
// streaming chat endpoint: a user asks for changes to a trip in plain
// language and the assistant edits the itinerary through tools,
// pushing progress frames over SSE as it works. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	travelr serve               Start the API server
//	travelr ask <message>       Send one chat turn to a running server
//	travelr version             Print version and build information
//	travelr -o json version     Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jvelez79/travelr-sub002/internal/api"
	"github.com/jvelez79/travelr-sub002/internal/assistant"
	"github.com/jvelez79/travelr-sub002/internal/buildinfo"
	"github.com/jvelez79/travelr-sub002/internal/config"
	"github.com/jvelez79/travelr-sub002/internal/events"
	"github.com/jvelez79/travelr-sub002/internal/history"
	"github.com/jvelez79/travelr-sub002/internal/llm"
	"github.com/jvelez79/travelr-sub002/internal/places"
	"github.com/jvelez79/travelr-sub002/internal/ratelimit"
	"github.com/jvelez79/travelr-sub002/internal/streamclient"
	"github.com/jvelez79/travelr-sub002/internal/tools"
	"github.com/jvelez79/travelr-sub002/internal/trip"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the travelr command. All OS-level
// dependencies are injected as parameters. Arguments are parsed by
// hand: the flag package relies on package-level globals, which makes
// it impossible to call run() concurrently from tests, and the
// argument surface here is small enough that manual parsing is
// clearer than bringing in a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		return runAsk(ctx, stdout, stderr, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Travelr - Conversational Itinerary Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: travelr [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Send one chat turn to a running server")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "ask flags (after the command):")
	fmt.Fprintln(w, "  -server <url>     Server base URL (or TRAVELR_SERVER)")
	fmt.Fprintln(w, "  -token <token>    API bearer token (or TRAVELR_TOKEN)")
	fmt.Fprintln(w, "  -trip <id>        Trip to operate on (required)")
	fmt.Fprintln(w, "  -conversation <id> Continue an existing conversation")
	return nil
}

// newLogger builds the process logger writing to w at the given level,
// rendering the trace level with its proper name.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and loads the config file, returning the parsed
// config and the path it came from.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// runServe handles the "travelr serve" subcommand. It is the primary
// operating mode: loads config, opens the trip and conversation
// databases, builds the tool registry and dispatch loop, starts the
// API server, and blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Travelr", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Anthropic.Model,
	)

	if cfg.Anthropic.APIKey == "" {
		return errors.New("anthropic.api_key is not configured")
	}
	if len(cfg.Auth.Tokens) == 0 {
		return errors.New("auth.tokens is empty: no client could authenticate")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Stores ---
	tripPath := filepath.Join(cfg.DataDir, "trips.db")
	trips, err := trip.NewStore(tripPath)
	if err != nil {
		return fmt.Errorf("open trip database %s: %w", tripPath, err)
	}
	defer trips.Close()
	logger.Info("trip database opened", "path", tripPath)

	histPath := filepath.Join(cfg.DataDir, "conversations.db")
	hist, err := history.NewStore(histPath)
	if err != nil {
		return fmt.Errorf("open conversation database %s: %w", histPath, err)
	}
	defer hist.Close()
	logger.Info("conversation database opened", "path", histPath)

	// --- Collaborators ---
	llmClient := llm.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, logger)

	var searcher places.Searcher
	if cfg.Places.BaseURL != "" {
		searcher = places.NewHTTPSearcher(cfg.Places.BaseURL, cfg.Places.APIKey, logger)
		logger.Debug("place search configured", "base_url", cfg.Places.BaseURL)
	} else {
		logger.Warn("places.base_url not configured - location search tools will fail")
		searcher = places.Unavailable{}
	}

	// --- Assistant ---
	bus := events.New()
	toolTimeout := time.Duration(cfg.Assistant.ToolTimeoutSec) * time.Second
	registry := tools.NewRegistry(trips, searcher, toolTimeout, logger)
	loop := assistant.NewLoop(llmClient, registry, hist, bus, cfg.Assistant.MaxIterations, cfg.Assistant.HistoryLimit, logger)
	gen := assistant.NewGenerator(llmClient, trips, bus, logger)

	// --- Admission control ---
	limiter := ratelimit.New(cfg.RateLimit.Requests, time.Duration(cfg.RateLimit.WindowSec)*time.Second, logger)

	auth := api.NewAuthenticator(cfg.Auth, logger)
	server := api.NewServer(cfg.Listen, loop, gen, trips, hist, limiter, bus, auth, logger)

	// Shut down cleanly on SIGINT or SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Purge expired rate-limit windows in the background.
	go limiter.Run(ctx, time.Duration(cfg.RateLimit.SweepSec)*time.Second)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// runAsk handles the "travelr ask" subcommand: it streams one chat
// turn against a running server, printing assistant text as it
// arrives and tool activity to stderr, then reconciles the streamed
// text against the durable transcript.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	server := os.Getenv("TRAVELR_SERVER")
	token := os.Getenv("TRAVELR_TOKEN")
	var tripID, conversationID string
	var messageParts []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-server" && i+1 < len(args):
			server = args[i+1]
			i++
		case args[i] == "-token" && i+1 < len(args):
			token = args[i+1]
			i++
		case args[i] == "-trip" && i+1 < len(args):
			tripID = args[i+1]
			i++
		case args[i] == "-conversation" && i+1 < len(args):
			conversationID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown ask flag: %s", args[i])
		default:
			messageParts = append(messageParts, args[i])
		}
	}

	if server == "" {
		server = "http://localhost:8080"
	}
	if token == "" {
		return errors.New("no API token: pass -token or set TRAVELR_TOKEN")
	}
	if tripID == "" {
		return errors.New("usage: travelr ask -trip <id> <message>")
	}
	message := strings.Join(messageParts, " ")
	if message == "" {
		return errors.New("usage: travelr ask -trip <id> <message>")
	}

	client := streamclient.NewClient(server, token)
	rec := streamclient.NewReconciler(client)

	err := client.StreamTurn(ctx, streamclient.TurnRequest{
		TripID:         tripID,
		ConversationID: conversationID,
		Message:        message,
	}, func(ev streamclient.Event) error {
		rec.Observe(ev)
		switch ev.Type {
		case streamclient.EventText:
			fmt.Fprint(stdout, ev.Text)
		case streamclient.EventToolCall:
			fmt.Fprintf(stderr, "[tool] %s\n", ev.ToolName)
		case streamclient.EventPlacesContext:
			for _, p := range ev.Places {
				fmt.Fprintf(stderr, "[place] %s (%s)\n", p.Name, p.ID)
			}
		case streamclient.EventError:
			fmt.Fprintf(stderr, "[error] %s\n", ev.Err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout)

	// Prefer the durable transcript when the turn was persisted; fall
	// back to what we streamed when it was not.
	final, durable, recErr := rec.Resolve(ctx)
	if recErr != nil {
		fmt.Fprintf(stderr, "[warn] transcript fetch failed, showing streamed text: %v\n", recErr)
	}
	if durable && final != "" {
		fmt.Fprintf(stderr, "[saved] conversation %s\n", rec.ConversationID())
	} else if rec.ConversationID() != "" {
		fmt.Fprintf(stderr, "[unsaved] this turn was not persisted\n")
	}
	return nil
}
