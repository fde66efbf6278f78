// ABOUTME: One-shot subcommands: ask a question, mint an API token, list agents
// ABOUTME: Share config loading and session wiring with the long-running surfaces

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-relay/internal/agentapi"
	"github.com/2389/coven-relay/internal/api"
	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/relay"
	"github.com/2389/coven-relay/internal/render"
)

// runAsk asks one question without history and prints the rendered answer.
func runAsk(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	agent := fs.String("agent", "", "agent selector (default: the primary agent)")
	quiet := fs.Bool("q", false, "print only the answer text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return errors.New("usage: coven-relay ask [-agent NAME] QUESTION")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format})

	session, store, err := buildSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	progress := color.New(color.FgHiBlack)
	req := relay.Request{Question: question, Agent: *agent, Ephemeral: true}
	if !*quiet {
		req.Progress = func(msg string) {
			progress.Fprintln(os.Stderr, render.ProgressLine(msg))
		}
	}

	start := time.Now()
	res := session.Run(ctx, req)
	if res.Failed() {
		return res.Err
	}
	if res.Empty() {
		return errors.New(render.NoResponse)
	}
	if *quiet {
		fmt.Println(res.Answer)
		return nil
	}
	fmt.Println(render.Markdown(res, time.Since(start)))
	return nil
}

// runToken mints an API token signed with server.jwt_secret.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fs.String("sub", "", "token subject")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	scopes := fs.String("scopes", api.ScopeAsk, "comma-separated scopes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	subject := strings.TrimSpace(*sub)
	if subject == "" {
		return errors.New("--sub is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret is not set; API auth is disabled")
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Server.JWTSecret))
	if err != nil {
		return err
	}

	var scopeList []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopeList = append(scopeList, s)
		}
	}
	token, err := verifier.Generate(subject, *ttl, scopeList...)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprint(os.Stderr, "▶ ")
	fmt.Fprintf(os.Stderr, "token for %s, expires %s\n", subject, time.Now().Add(*ttl).Format(time.RFC3339))
	fmt.Println(token)
	return nil
}

// runAgents prints the configured agent catalog.
func runAgents() error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := agentapi.NewCatalog(cfg.Agent.Primary, cfg.Agent.Agents)
	if err != nil {
		return err
	}
	return printCatalog(os.Stdout, catalog)
}

func printCatalog(w io.Writer, catalog *agentapi.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SELECTOR\tAGENT\t")
	for _, e := range catalog.Entries() {
		mark := ""
		if e.Primary {
			mark = "(primary)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Selector, e.Name, mark)
	}
	return tw.Flush()
}
