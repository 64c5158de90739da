package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/finllm-labs/gateway/pkg/config"
	"github.com/finllm-labs/gateway/pkg/credentials"
	"github.com/finllm-labs/gateway/pkg/delegation"
	"github.com/finllm-labs/gateway/pkg/directory"
	"github.com/finllm-labs/gateway/pkg/filter"
	"github.com/finllm-labs/gateway/pkg/intent"
	"github.com/finllm-labs/gateway/pkg/ledger"
	"github.com/finllm-labs/gateway/pkg/llm"
	"github.com/finllm-labs/gateway/pkg/observability"
	"github.com/finllm-labs/gateway/pkg/pipeline"
	"github.com/finllm-labs/gateway/pkg/server"
	"github.com/finllm-labs/gateway/pkg/signing"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands. It returns the process exit code so tests
// can drive the CLI without exiting.
func Run(args []string, stdout, stderr io.Writer) int {
	_ = godotenv.Load()

	if len(args) < 2 {
		return runServe(stderr)
	}
	switch args[1] {
	case "serve", "server":
		return runServe(stderr)
	case "acl":
		return runACL(args[2:], stdout, stderr)
	case "keygen":
		return runKeygen(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return runServe(stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: gateway [command]

Commands:
  serve            Start the gateway HTTP server (default)
  acl <subcmd>     Audit ledger tooling: init, recent, get, verify
  keygen           Generate the RSA signing keypair
  help             Show this help`)
}

func setupLogger(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func runServe(stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}
	setupLogger(cfg.LogLevel)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds, err := credentials.NewService(cfg.JWTSecretKey, cfg.JWTAlgorithm, cfg.ServerID,
		cfg.SessionTTL, cfg.DelegationTTL)
	if err != nil {
		logger.Error("credential service init failed", "error", err)
		return 1
	}

	store, err := directory.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("operator store init failed", "error", err)
		return 1
	}
	defer func() { _ = store.Close() }()
	if err := store.Seed(ctx, creds.HashPassword); err != nil {
		logger.Error("operator seeding failed", "error", err)
		return 1
	}

	priv, err := signing.LoadPrivateKey(cfg.PrivateKeyPath, cfg.KeyPassphrase)
	if err != nil {
		logger.Error("private key load failed", "error", err, "path", cfg.PrivateKeyPath)
		return 1
	}
	pub, err := signing.LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		logger.Error("public key load failed", "error", err, "path", cfg.PublicKeyPath)
		return 1
	}
	signer, err := signing.NewRSASigner(priv, pub)
	if err != nil {
		logger.Error("signer init failed", "error", err)
		return 1
	}

	filterCfg, err := filter.LoadConfig(cfg.FilterConfig)
	if err != nil {
		logger.Error("filter config load failed", "error", err, "path", cfg.FilterConfig)
		return 1
	}
	contentFilter, err := filter.New(filterCfg, nil)
	if err != nil {
		logger.Error("filter init failed", "error", err)
		return 1
	}

	led, err := ledger.Open(cfg.LedgerPath, cfg.LedgerKey)
	if err != nil {
		logger.Error("audit ledger init failed", "error", err, "path", cfg.LedgerPath)
		return 1
	}
	defer func() { _ = led.Close() }()

	metrics, err := observability.New(ctx, &observability.Config{
		ServiceName:    "finllm-gateway",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(shutdownCtx)
	}()

	parser := intent.NewParser(llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel))
	pipe := pipeline.New(creds, contentFilter, signer, led)
	srv := server.New(creds, store, parser, delegation.NewAuthority(creds), pipe, led, metrics)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return 1
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return 1
	}
	logger.Info("gateway stopped")
	return 0
}

// runACL is the debug CLI over the audit ledger. Every subcommand needs
// DB_ENCRYPTION_KEY; a missing key is a non-zero exit.
func runACL(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: gateway acl <init|recent|get|verify> [args]")
		return 2
	}

	key, err := config.DecodeLedgerKey(os.Getenv("DB_ENCRYPTION_KEY"))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	path := os.Getenv("ACL_DB_PATH")
	if path == "" {
		path = "acl.db"
	}

	led, err := ledger.Open(path, key)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open ledger: %v\n", err)
		return 1
	}
	defer func() { _ = led.Close() }()

	ctx := context.Background()
	switch args[0] {
	case "init":
		// Open already created the schema idempotently.
		_, _ = fmt.Fprintf(stdout, "ledger initialized at %s\n", path)
		return 0

	case "recent":
		fs := flag.NewFlagSet("acl recent", flag.ContinueOnError)
		fs.SetOutput(stderr)
		limit := fs.Int("limit", 10, "number of events to show")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		events, err := led.Recent(ctx, *limit)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "read ledger: %v\n", err)
			return 1
		}
		return printJSON(stdout, stderr, events)

	case "get":
		if len(args) < 2 {
			_, _ = fmt.Fprintln(stderr, "Usage: gateway acl get <id>")
			return 2
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "invalid id %q\n", args[1])
			return 2
		}
		event, err := led.Get(ctx, id)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "read ledger: %v\n", err)
			return 1
		}
		if event == nil {
			_, _ = fmt.Fprintf(stderr, "no event with id %d\n", id)
			return 1
		}
		return printJSON(stdout, stderr, event)

	case "verify":
		if err := led.VerifyChain(ctx); err != nil {
			_, _ = fmt.Fprintf(stderr, "chain verification FAILED: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintln(stdout, "chain verification OK")
		return 0

	default:
		_, _ = fmt.Fprintf(stderr, "Unknown acl subcommand: %s\n", args[0])
		return 2
	}
}

func printJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	privPath := fs.String("private", "keys/private_key.pem", "private key output path")
	pubPath := fs.String("public", "keys/public_key.pem", "public key output path")
	passphrase := fs.String("passphrase", os.Getenv("KEY_PASSPHRASE"), "optional private key passphrase")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := signing.GenerateKeyPair(*privPath, *pubPath, *passphrase); err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "wrote %s and %s\n", *privPath, *pubPath)
	return 0
}
