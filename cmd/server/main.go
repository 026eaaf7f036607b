package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kairos-intake/internal/intent"
	"kairos-intake/internal/learning"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "kairos-intake",
		Short:         "Kairos virtual doctor intake engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), migrateCmd(), trainCmd(), learnCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the learning scheduler and the idle-session janitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			a.logger.Info().Msg("migrations applied")
			return nil
		},
	})
	return cmd
}

func trainCmd() *cobra.Command {
	var corpus string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit the intent classifier from the seed corpus and persist it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			if corpus == "" {
				corpus = a.cfg.SeedCorpusPath
			}

			texts, labels, err := intent.LoadCorpus(corpus)
			if err != nil {
				return err
			}
			clf := intent.NewClassifier(intent.NewFileStore(a.cfg.ClassifierModelPath), intent.TrainOptions{}, a.logger)
			m, err := clf.Train(texts, labels)
			if err != nil {
				return err
			}
			return printJSON(m)
		},
	}
	cmd.Flags().StringVar(&corpus, "corpus", "", "YAML corpus to train from (defaults to SEED_CORPUS_PATH)")
	return cmd
}

func learnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "learn",
		Short: "Run one learning pass and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.build(ctx); err != nil {
				return err
			}

			rep, err := a.loop.RunOnce(ctx)
			if errors.Is(err, learning.ErrInsufficientTrainingData) {
				a.logger.Warn().Err(err).Msg("retrain declined")
				err = nil
			}
			if err != nil {
				return err
			}
			return printJSON(rep)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServer(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.build(ctx); err != nil {
		return err
	}

	go a.scheduler.Start(ctx)
	go a.janitor(ctx)

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
		// resolve may wait on the oracle
		WriteTimeout: a.cfg.OracleTimeout + 30*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("port", a.cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	a.logger.Info().Int("open_sessions", a.consult.Registry().Len()).Msg("server stopped")
	return nil
}
