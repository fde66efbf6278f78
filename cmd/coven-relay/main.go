// ABOUTME: Entry point for coven-relay, the chat relay in front of hosted data agents
// ABOUTME: Subcommands run the HTTP API and chat surfaces, ask one-off questions and mint tokens

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-relay/internal/agentapi"
	"github.com/2389/coven-relay/internal/api"
	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/history"
	"github.com/2389/coven-relay/internal/matrixbot"
	"github.com/2389/coven-relay/internal/relay"
	"github.com/2389/coven-relay/internal/slackbot"
)

// Version is set at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __       _ __ ___| | __ _ _   _
 / __/ _ \ \ / / _ \ '_ \ ____| '__/ _ \ |/ _' | | | |
| (_| (_) \ V /  __/ | | |____| | |  __/ | (_| | |_| |
 \___\___/ \_/ \___|_| |_|    |_|  \___|_|\__,_|\__, |
                                                |___/
`

func usage() {
	fmt.Println("Usage: coven-relay <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                       Run the HTTP API plus every enabled chat surface")
	fmt.Println("  slack                       Run only the Slack bot")
	fmt.Println("  matrix                      Run only the Matrix bot")
	fmt.Println("  ask [-agent NAME] QUESTION  Ask one question and print the answer")
	fmt.Println("  token --sub NAME [--ttl D]  Mint an API token")
	fmt.Println("  agents                      List configured agents")
	fmt.Println("  version                     Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, true, true, true)
	case "slack":
		err = runServe(ctx, false, true, false)
	case "matrix":
		err = runServe(ctx, false, false, true)
	case "ask":
		err = runAsk(ctx, os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "agents":
		err = runAgents()
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	cfg, path, err := config.LoadDefault()
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	if path == "" {
		path = "(environment)"
	}
	return cfg, path, nil
}

// buildSession wires the history store and agent client into a session.
// The returned store must be closed by the caller.
func buildSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*relay.Session, history.Store, error) {
	store, err := history.Open(ctx, history.Options{
		Backend:     cfg.History.Backend,
		Path:        cfg.History.Path,
		DSN:         cfg.History.DSN,
		MaxMessages: cfg.Session.MaxHistory,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening history: %w", err)
	}

	client, err := agentapi.NewClient(agentapi.Config{
		Account:  cfg.Agent.Account,
		BaseURL:  cfg.Agent.BaseURL,
		Token:    cfg.Agent.Token,
		Database: cfg.Agent.Database,
		Schema:   cfg.Agent.Schema,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("creating agent client: %w", err)
	}

	catalog, err := agentapi.NewCatalog(cfg.Agent.Primary, cfg.Agent.Agents)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("building agent catalog: %w", err)
	}

	session := relay.NewSession(client, catalog, store, relay.Config{
		Timeout:          cfg.Agent.Timeout,
		ProgressInterval: cfg.Session.ProgressInterval,
		Milestones:       cfg.Session.Milestones,
		SerializeThreads: cfg.Session.Serialize(),
	}, logger)
	return session, store, nil
}

// runServe runs the requested surfaces until ctx is cancelled. In serve
// mode the chat surfaces only start when enabled in the config.
func runServe(ctx context.Context, withAPI, withSlack, withMatrix bool) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	serveAll := withAPI
	if serveAll {
		withSlack = cfg.Slack.Enabled
		withMatrix = cfg.Matrix.Enabled
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Agent:     %s (%s)\n", cfg.Agent.Primary, cfg.Agent.Agents[cfg.Agent.Primary])
	green.Print("    ▶ ")
	fmt.Printf("History:   %s\n", cfg.History.Backend)
	if withAPI {
		green.Print("    ▶ ")
		if cfg.Tailscale.Enabled {
			fmt.Printf("HTTP:      ")
			cyan.Print(cfg.Tailscale.Hostname)
			if cfg.Tailscale.Ephemeral {
				gray.Print(" (ephemeral)")
			}
			fmt.Println()
		} else {
			fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
		}
		if cfg.Server.JWTSecret == "" {
			yellow.Print("    ! ")
			fmt.Println("API auth disabled (server.jwt_secret not set)")
		}
	}
	if withSlack {
		green.Print("    ▶ ")
		fmt.Println("Slack:     socket mode")
	}
	if withMatrix {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:    %s as %s\n", cfg.Matrix.Homeserver, cfg.Matrix.UserID)
	}
	fmt.Println()

	session, store, err := buildSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var runners []func(context.Context) error

	if withAPI {
		opts := api.Options{
			Addr:        cfg.Server.HTTPAddr,
			CORSOrigins: cfg.Server.CORSOrigins,
			Tailscale:   cfg.Tailscale,
		}
		if cfg.Server.JWTSecret != "" {
			verifier, err := auth.NewJWTVerifier([]byte(cfg.Server.JWTSecret))
			if err != nil {
				return fmt.Errorf("creating token verifier: %w", err)
			}
			opts.Verifier = verifier
		}
		runners = append(runners, api.New(session, opts, logger).Run)
	}

	if withSlack {
		bot, err := slackbot.New(slackbot.Config{
			BotToken:        cfg.Slack.BotToken,
			AppToken:        cfg.Slack.AppToken,
			AllowedChannels: cfg.Slack.AllowedChannels,
		}, session, logger)
		if err != nil {
			return fmt.Errorf("creating slack bot: %w", err)
		}
		runners = append(runners, bot.Run)
	}

	if withMatrix {
		bot, err := matrixbot.New(cfg.Matrix, session, logger)
		if err != nil {
			return fmt.Errorf("creating matrix bot: %w", err)
		}
		runners = append(runners, bot.Run)
	}

	if len(runners) == 0 {
		return errors.New("nothing to run")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, run := range runners {
		g.Go(func() error { return run(ctx) })
	}

	logger.Info("starting coven-relay", "config", configPath, "api", withAPI, "slack", withSlack, "matrix", withMatrix)
	return g.Wait()
}
