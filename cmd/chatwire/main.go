// chatwire is a small CLI for OpenAI-compatible chat endpoints.
//
// With arguments it sends a single prompt; without, it runs an
// interactive loop. Replies stream to stdout unless -no-stream is set.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/jmorrell/chatwire/config"
	"github.com/jmorrell/chatwire/llm"
	chatwirelogger "github.com/jmorrell/chatwire/logger"
	"github.com/jmorrell/chatwire/migrations"
	"github.com/jmorrell/chatwire/models"
	"github.com/jmorrell/chatwire/transcripts"
)

func main() {
	var (
		configPath     = flag.String("config", config.GetConfigPath(), "Path to config file")
		model          = flag.String("model", "", "Model id (overrides config)")
		system         = flag.String("system", "", "System prompt (overrides config)")
		sessionID      = flag.String("session", "", "Session id for transcript persistence")
		noStream       = flag.Bool("no-stream", false, "Wait for the full reply instead of streaming")
		wait           = flag.Bool("wait", false, "Wait for the endpoint to become reachable before chatting")
		migrationsPath = flag.String("migrations", "migrations/sql", "Path to transcript schema migrations")
		logFile        = flag.String("logfile", "", "Path to log file. If not set, logs to stderr")
		pretty         = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		fmt.Fprintln(os.Stderr, "Error: --logfile and --pretty are mutually exclusive")
		os.Exit(1)
	}

	logger, err := chatwirelogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load configuration, using defaults")
		cfg = config.Default()
	}
	if *model != "" {
		cfg.Model = *model
	}
	if *system != "" {
		cfg.System = *system
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := llm.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create client: %v\n", err)
		os.Exit(1)
	}

	if *wait {
		if err := waitForEndpoint(ctx, cfg.BaseURL, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Endpoint not reachable: %v\n", err)
			os.Exit(1)
		}
	}

	var store *transcripts.Store
	if cfg.TranscriptDB != "" && *sessionID != "" {
		db, err := transcripts.Open(cfg.TranscriptDB, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Transcript persistence disabled")
		} else {
			defer db.Close()
			if err := migrations.Run(db, *migrationsPath, logger); err != nil {
				logger.Warn().Err(err).Msg("Transcript persistence disabled")
			} else {
				store = transcripts.NewStore(db, logger)
			}
		}
	}

	opts := &llm.ChatOptions{MaxRetries: cfg.MaxRetries}
	session, err := client.NewSession(llm.SessionOptions{
		System:  cfg.System,
		Options: opts,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create session: %v\n", err)
		os.Exit(1)
	}
	if store != nil {
		if err := restoreHistory(ctx, store, *sessionID, session); err != nil {
			logger.Warn().Err(err).Msg("Failed to restore transcript")
		}
	}

	run := runner{
		session:   session,
		store:     store,
		sessionID: *sessionID,
		stream:    !*noStream,
		timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		model:     cfg.Model,
		logger:    logger,
	}

	if flag.NArg() > 0 {
		if err := run.prompt(ctx, strings.Join(flag.Args(), " ")); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	run.interactive(ctx)
}

type runner struct {
	session   *llm.Session
	store     *transcripts.Store
	sessionID string
	stream    bool
	timeout   time.Duration
	model     string
	logger    zerolog.Logger
}

// prompt sends one message and prints the reply.
func (r *runner) prompt(ctx context.Context, content string) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	r.record(ctx, llm.RoleUser, content)

	if !r.stream {
		reply, err := r.session.Send(ctx, content)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		r.record(ctx, llm.RoleAssistant, reply)
		return nil
	}

	stream, err := r.session.SendStream(ctx, content)
	if err != nil {
		return err
	}
	defer stream.Close()

	var reply strings.Builder
	for stream.Next() {
		fmt.Print(stream.Text())
		reply.WriteString(stream.Text())
	}
	fmt.Println()
	if err := stream.Err(); err != nil {
		return err
	}
	r.record(ctx, llm.RoleAssistant, reply.String())
	return nil
}

// interactive reads prompts from stdin until EOF or "exit".
func (r *runner) interactive(ctx context.Context) {
	fmt.Printf("chatwire (%s, ~%d token window), type 'exit' to quit\n",
		r.model, models.ContextWindow(r.model))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return
		case "/clear":
			if err := r.session.Clear(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			continue
		}
		if err := r.prompt(ctx, line); err != nil {
			if llm.IsCancelledError(err) {
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

func (r *runner) record(ctx context.Context, role llm.MessageRole, content string) {
	if r.store == nil {
		return
	}
	if err := r.store.Append(ctx, r.sessionID, role, content); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to persist transcript message")
	}
}

// restoreHistory replays a persisted transcript into the session so a
// resumed conversation keeps its context.
func restoreHistory(ctx context.Context, store *transcripts.Store, sessionID string, session *llm.Session) error {
	msgs, err := store.Messages(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			continue
		}
		if err := session.AddMessage(m.Role, m.Content); err != nil {
			return err
		}
	}
	return nil
}

// waitForEndpoint polls the endpoint's /models route until it answers,
// backing off exponentially between probes.
func waitForEndpoint(ctx context.Context, baseURL string, logger zerolog.Logger) error {
	if baseURL == "" {
		baseURL = llm.DefaultBaseURL
	}
	url := strings.TrimRight(baseURL, "/") + "/models"

	probe := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			logger.Debug().Err(err).Str("url", url).Msg("Endpoint probe failed")
			return err
		}
		_ = resp.Body.Close()
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 10 * time.Second
	eb.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(probe, backoff.WithContext(backoff.WithMaxRetries(eb, 10), ctx))
}
