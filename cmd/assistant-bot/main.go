// ABOUTME: Entry point for assistant-bot
// ABOUTME: Runs the enabled chat transports against one session registry, request manager and ledger

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/2389/meeting-assistant/internal/a2a"
	"github.com/2389/meeting-assistant/internal/chat"
	"github.com/2389/meeting-assistant/internal/config"
	"github.com/2389/meeting-assistant/internal/discord"
	"github.com/2389/meeting-assistant/internal/lifecycle"
	"github.com/2389/meeting-assistant/internal/matrix"
	"github.com/2389/meeting-assistant/internal/session"
	"github.com/2389/meeting-assistant/internal/store"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

const banner = `
                     _   _                                _     _              _
 _ __ ___   ___  ___| |_(_)_ __   __ _        __ _ ___ ___(_)___| |_ __ _ _ __ | |_
| '_ ' _ \ / _ \/ _ \ __| | '_ \ / _' |_____ / _' / __/ __| / __| __/ _' | '_ \| __|
| | | | | |  __/  __/ |_| | | | | (_| |_____| (_| \__ \__ \ \__ \ || (_| | | | | |_
|_| |_| |_|\___|\___|\__|_|_| |_|\__, |      \__,_|___/___/_|___/\__\__,_|_| |_|\__|
                                 |___/
`

// getConfigPath returns the config file to load.
// Priority: --config > ASSISTANT_CONFIG > XDG_CONFIG_HOME/meeting-assistant/config.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("ASSISTANT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "meeting-assistant", "config.yaml")
}

// getDataPath returns the directory for the Matrix crypto store.
// Priority: XDG_DATA_HOME/meeting-assistant > ~/.local/share/meeting-assistant
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "meeting-assistant")
}

func main() {
	flags := pflag.NewFlagSet("assistant-bot", pflag.ContinueOnError)
	configFlag := flags.StringP("config", "c", "", "path to the config file (YAML or TOML)")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the config")
	showVersion := flags.Bool("version", false, "print the version and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if *showVersion {
		fmt.Println(version)
		return
	}

	// A missing dotenv file is normal in production.
	_ = godotenv.Load(*envFile)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, getConfigPath(*configFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// transport is a chat transport the bot can run.
type transport interface {
	chat.Transport
	Run(ctx context.Context, h chat.Handler) error
	Close() error
}

func run(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	logger := setupLogger(cfg.Logging)

	printStartup(configPath, cfg)

	ledger, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening exchange ledger: %w", err)
	}
	defer ledger.Close()

	agentCfg := agentConfig(cfg, logger)
	checkAgent(ctx, agentCfg, logger)

	sessions := session.NewRegistry(session.A2ADialer(agentCfg), logger)
	requests := lifecycle.New(cfg.Bot.StaleAfter, logger)
	go requests.Run(ctx, cfg.Bot.SweepInterval)

	transports, err := buildTransports(cfg, logger)
	if err != nil {
		return err
	}

	frontends := make([]*chat.Frontend, 0, len(transports))
	for _, t := range transports {
		frontends = append(frontends, chat.New(t, sessions, requests, ledger, frontendConfig(cfg), logger))
	}

	logger.Info("starting assistant-bot", "transports", len(transports), "agent", cfg.Agent.URL)
	err = runTransports(ctx, transports, frontends, logger)

	requests.Shutdown()
	closed := sessions.CloseAll()
	for _, f := range frontends {
		f.Close()
	}
	for _, t := range transports {
		if cerr := t.Close(); cerr != nil {
			logger.Warn("closing transport", "transport", t.Name(), "error", cerr)
		}
	}
	logger.Info("assistant-bot stopped", "sessions_closed", closed)
	return err
}

func printStartup(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	if cfg.Agent.URL != "" {
		fmt.Printf("Agent:    %s\n", cfg.Agent.URL)
	} else {
		fmt.Print("Agent:    ")
		yellow.Println("not configured")
	}
	green.Print("    ▶ ")
	fmt.Printf("Ledger:   %s\n", cfg.Database.Path)
	if cfg.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:   %s as %s", cfg.Matrix.Homeserver, cfg.Matrix.UserID)
		if cfg.Matrix.RecoveryKey != "" {
			yellow.Print(" [e2ee]")
		}
		fmt.Println()
	}
	if cfg.Discord.Enabled {
		green.Print("    ▶ ")
		fmt.Println("Discord:  enabled")
	}
	fmt.Println()
}

func agentConfig(cfg *config.Config, logger *slog.Logger) a2a.Config {
	return a2a.Config{
		Endpoint:        cfg.Agent.URL,
		MaxRetries:      cfg.Agent.MaxRetries,
		BaseDelay:       cfg.Agent.BaseDelay,
		FailedTaskDelay: cfg.Agent.FailedTaskDelay,
		Timeout:         cfg.Agent.Timeout,
		ConnectTimeout:  cfg.Agent.ConnectTimeout,
		MaxReplyChars:   cfg.Agent.MaxReplyChars,
		HistoryLength:   cfg.Agent.HistoryLength,
		Logger:          logger,
	}
}

func frontendConfig(cfg *config.Config) chat.Config {
	return chat.Config{
		AgentURL:       cfg.Agent.URL,
		EditsEnabled:   cfg.Bot.EditsEnabled(),
		EditWindow:     cfg.Bot.EditResponseTimeout,
		TypingInterval: cfg.Bot.TypingInterval,
		MessageLimit:   cfg.Bot.MessageLimit,
		FormatReplies:  cfg.Bot.FormattingEnabled(),
	}
}

// checkAgent logs whether the agent answers its health endpoint. An
// unreachable agent is not fatal: users see the error when they send.
func checkAgent(ctx context.Context, agentCfg a2a.Config, logger *slog.Logger) {
	if agentCfg.Endpoint == "" {
		logger.Warn("agent url is not configured; users will not be able to connect")
		return
	}
	client, err := a2a.NewClient(agentCfg)
	if err != nil {
		logger.Warn("agent url is invalid", "error", err)
		return
	}
	defer client.Close()

	if client.HealthCheck(ctx) {
		logger.Info("agent is healthy", "endpoint", client.Endpoint())
	} else {
		logger.Warn("agent health check failed", "endpoint", client.Endpoint())
	}
}

func buildTransports(cfg *config.Config, logger *slog.Logger) ([]transport, error) {
	var transports []transport

	if cfg.Matrix.Enabled {
		mt, err := matrix.New(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			UserID:       cfg.Matrix.UserID,
			AccessToken:  cfg.Matrix.AccessToken,
			RecoveryKey:  cfg.Matrix.RecoveryKey,
			DataDir:      getDataPath(),
			AllowedUsers: cfg.Matrix.AllowedUsers,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating matrix transport: %w", err)
		}
		transports = append(transports, mt)
	}

	if cfg.Discord.Enabled {
		dt, err := discord.New(discord.Config{
			BotToken:        cfg.Discord.BotToken,
			AllowedChannels: cfg.Discord.AllowedChannels,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating discord transport: %w", err)
		}
		transports = append(transports, dt)
	}

	if len(transports) == 0 {
		return nil, config.ErrNoTransport
	}
	return transports, nil
}

// runTransports runs every transport until ctx ends or one of them fails,
// in which case the others are stopped too.
func runTransports(ctx context.Context, transports []transport, frontends []*chat.Frontend, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, t := range transports {
		wg.Add(1)
		go func(t transport, f *chat.Frontend) {
			defer wg.Done()
			if err := t.Run(ctx, f); err != nil {
				logger.Error("transport stopped", "transport", t.Name(), "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("%s transport: %w", t.Name(), err)
				}
				mu.Unlock()
				cancel()
			}
		}(t, frontends[i])
	}
	wg.Wait()
	return firstErr
}
