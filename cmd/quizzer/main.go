// Command quizzer runs the quiz-solving service: an HTTP endpoint that
// accepts quiz requests and solves each chain of questions in the
// background, plus a one-shot solve mode for local runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizzer/internal/chain"
	"quizzer/internal/config"
	"quizzer/internal/extract"
	"quizzer/internal/logging"
	"quizzer/internal/render"
	"quizzer/internal/server"
	"quizzer/internal/solve"
	"quizzer/internal/submit"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "quizzer",
		Short:         "Automated quiz chain solver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "quizzer.yaml", "path to config file")

	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newSolveCmd(&cfgPath))
	return root
}

// setup loads env, config, and the logger shared by both subcommands.
func setup(cfgPath string) (*config.Config, *zap.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, logger, nil
}

// buildOrchestrator wires the pipeline components from config.
func buildOrchestrator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*chain.Orchestrator, error) {
	llm, err := solve.NewClient(ctx, cfg.LLM, cfg.GetLLMTimeout())
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}

	renderer := render.NewRenderer(cfg, logger)
	extractor := extract.NewExtractor(
		&http.Client{Timeout: cfg.GetStaticTimeout()},
		cfg.Quiz.UserAgent,
		cfg.Render.MaxDownloadBytes,
		cfg.Render.PreviewCap,
		logger,
	)
	composer := solve.NewComposer(llm, logger)
	submitter := submit.NewSubmitter(
		&http.Client{},
		cfg.Quiz.PayloadCeiling,
		cfg.GetSubmitTimeout(),
		logger,
	)
	return chain.New(renderer, extractor, composer, submitter, cfg.Quiz, logger), nil
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the quiz solving HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orch, err := buildOrchestrator(ctx, cfg, logger)
			if err != nil {
				return err
			}

			srv := server.New(cfg.Server, cfg.GetDeadline(), orch, logger)
			httpSrv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", zap.String("addr", cfg.Server.Addr))
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("http server: %w", err)
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}

			// In-flight sessions get the remainder of their own budget.
			drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.GetDeadline())
			defer cancelDrain()
			if err := srv.Shutdown(drainCtx); err != nil {
				logger.Warn("sessions still running at exit", zap.Error(err))
			}
			return nil
		},
	}
}

func newSolveCmd(cfgPath *string) *cobra.Command {
	var email, secret string

	cmd := &cobra.Command{
		Use:   "solve URL",
		Short: "Solve one quiz chain and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if email == "" {
				email = cfg.Server.Email
			}
			if secret == "" {
				secret = cfg.Server.Secret
			}
			if email == "" {
				return errors.New("no email configured; pass --email or set QUIZZER_EMAIL")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orch, err := buildOrchestrator(ctx, cfg, logger)
			if err != nil {
				return err
			}

			sess := chain.NewSession(email, secret, args[0], cfg.GetDeadline())
			res := orch.Run(ctx, sess)

			fmt.Printf("outcome: %s\nrounds completed: %d\n", res.Kind, res.RoundsCompleted)
			if res.LastErr != nil {
				fmt.Printf("last error: %v\n", res.LastErr)
			}
			if res.Kind != chain.ResultSolved {
				return fmt.Errorf("session ended %s", res.Kind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "participant email")
	cmd.Flags().StringVar(&secret, "secret", "", "participant secret")
	return cmd
}
