package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"concierge/internal/config"
	"concierge/internal/dialog"
	"concierge/internal/knowledge"
	"concierge/internal/leases"
	"concierge/internal/logging"
	"concierge/internal/metrics"
	"concierge/internal/notify"
	"concierge/internal/orchestrate"
	"concierge/internal/otp"
	"concierge/internal/server"
	"concierge/internal/summary"
)

// lookupReasoner adapts the orchestration client to the controller:
// backend failures carry their knowledge-lookup escalation reason into
// the reply instead of the generic agent error. Embedding keeps the
// client's ForgetThread visible to session cleanup.
type lookupReasoner struct {
	*orchestrate.Client
}

func (r lookupReasoner) Invoke(ctx context.Context, query, sessionID string) (string, error) {
	answer, err := r.Client.Invoke(ctx, query, sessionID)
	if err != nil {
		return "", knowledge.NewLookupError(err)
	}
	if strings.TrimSpace(answer) == "" {
		return "", knowledge.NewLookupError(knowledge.ErrNoResults)
	}
	return answer, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket chat server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	store, err := newSessionStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer store.Close()

	deps := server.Deps{
		Store:   store,
		Metrics: metrics.Default(),
		Logger:  logger,
	}

	// A reasoning backend that cannot be constructed aborts startup;
	// nothing else is fatal to the process.
	client, err := orchestrate.NewClient(orchestrate.Config{
		BaseURL:       cfg.Orchestrate.BaseURL,
		InstanceID:    cfg.Orchestrate.InstanceID,
		AgentID:       cfg.Orchestrate.AgentID,
		APIToken:      cfg.Orchestrate.APIToken,
		Timeout:       cfg.Orchestrate.Timeout,
		MaxIterations: cfg.Orchestrate.MaxIterations,
	})
	if err != nil {
		return fmt.Errorf("reasoning backend: %w", err)
	}
	deps.Controller = dialog.NewController(store, lookupReasoner{client}, dialog.Config{
		Timeout: cfg.Orchestrate.Timeout,
	}, logger)
	deps.Summarizer = summary.New(client)

	deps.OTP = otp.NewManager(cfg.OTP.TTL)
	if cfg.SMTP.Host != "" {
		mailer, err := notify.NewMailer(cfg.SMTP, logger)
		if err != nil {
			return fmt.Errorf("mailer: %w", err)
		}
		deps.Mailer = mailer
	}
	if cfg.Leases.DSN != "" {
		leaseStore, err := leases.NewStore(ctx, cfg.Leases.DSN)
		if err != nil {
			return fmt.Errorf("lease store: %w", err)
		}
		defer leaseStore.Close()
		deps.Leases = leaseStore
	}

	srv := server.New(cfg.Server, deps)

	fmt.Printf("%s %s\n", cyan("concierge"), gray("support backend"))
	fmt.Printf("  %s http://%s\n", green("listening on"), cfg.Server.Addr())
	fmt.Printf("  %s %s\n", green("session store"), cfg.Store.Backend)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
