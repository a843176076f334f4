// ABOUTME: Entry point for the edge-gateway server
// ABOUTME: Terminates client HTTP/WebSocket traffic and relays it to the business layer

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/fatih/color"

	"github.com/pillarhq/edge-gateway/internal/auth"
	"github.com/pillarhq/edge-gateway/internal/config"
	"github.com/pillarhq/edge-gateway/internal/gateway"
	"github.com/pillarhq/edge-gateway/internal/telemetry"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
           _                              _
  ___  __| | __ _  ___        __ _  __ _| |_ _____      ____ _ _   _
 / _ \/ _' |/ _' |/ _ \_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
|  __/ (_| | (_| |  __/_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \___|\__,_|\__, |\___|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
            |___/            |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: EDGE_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/edge-gateway/gateway.yaml > ~/.config/edge-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("EDGE_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "edge-gateway", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: edge-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve               Start the gateway server")
		fmt.Println("  init                Write a starter config file")
		fmt.Println("  health              Check gateway health")
		fmt.Println("  token --sub <id>    Mint a local JWT for testing")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("API:     %s\n", cfg.Server.APIPrefix)
	green.Print("    ▶ ")
	fmt.Printf("WS:      %s\n", gateway.WSPath)
	fmt.Println()

	logger.Info("starting edge-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	deps := buildDependencies(cfg)
	gw := gateway.New(cfg, deps, logger)
	return gw.Run(ctx)
}

// buildDependencies wires the collaborators available in this process. The
// request router and agent handler are registered by the business layer at
// deployment; a bare gateway starts with only the token validator and
// telemetry so health and auth paths work.
func buildDependencies(cfg *config.Config) *gateway.Dependencies {
	deps := &gateway.Dependencies{}
	if cfg.Auth.JWTSecret != "" {
		deps.TokenValidator = auth.NewJWTValidator([]byte(cfg.Auth.JWTSecret))
	}
	if cfg.Metrics.Enabled {
		deps.Telemetry = telemetry.NewPrometheusEmitter()
	}
	return deps
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println("healthy")
	return nil
}

// runToken mints an HS256 token against the configured secret. Useful for
// exercising the bearer fallback and websocket session tokens in dev.
func runToken() error {
	var sub, tenant string
	var roles []string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--sub":
			if i+1 >= len(args) {
				return fmt.Errorf("--sub requires a value")
			}
			sub = args[i+1]
			i++
		case args[i] == "--tenant":
			if i+1 >= len(args) {
				return fmt.Errorf("--tenant requires a value")
			}
			tenant = args[i+1]
			i++
		case args[i] == "--roles":
			if i+1 >= len(args) {
				return fmt.Errorf("--roles requires a value")
			}
			roles = strings.Split(args[i+1], ",")
			i++
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if sub == "" {
		return fmt.Errorf("--sub flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	validator := auth.NewJWTValidator([]byte(cfg.Auth.JWTSecret))
	token, err := validator.Generate(sub, tenant, roles, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runInit() error {
	outputFile := getConfigPath()

	if _, err := os.Stat(outputFile); err == nil {
		return fmt.Errorf("config already exists: %s", outputFile)
	}

	configContent := `# edge-gateway configuration
# Generated by edge-gateway init

server:
  http_addr: "localhost:8080"
  api_prefix: "/api/v1"
  body_timeout: "10s"
  write_timeout: "10s"

origins:
  allowed: []
  allow_missing: true

limits:
  max_per_user: 3
  max_global: 1000

rate_limit:
  max_per_second: 5
  max_per_minute: 60
  sweep_interval: "1m"
  idle_ttl: "5m"

auth:
  jwt_secret: ""
  anonymous_paths:
    - "session/bootstrap"

heartbeat:
  interval: "30s"
  timeout: "90s"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  path: "/metrics"
`

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Config written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Println("  edge-gateway serve")

	return nil
}
