package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quiz-rag/internal/config"
	"quiz-rag/internal/pipeline"
)

const configFilePath = "./configs/config.yaml"

type app struct {
	configPath string
	debug      bool
	cfg        *config.Config
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "quiz-rag",
		Short:         "Generate multiple-choice questions from textbook material",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	defaultPath := configFilePath
	if p := os.Getenv("RAG_CONFIG"); p != "" {
		defaultPath = p
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultPath, "Path to the config file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		a.ingestCmd(),
		a.generateCmd(),
		a.evaluateCmd(),
		a.searchCmd(),
		a.statusCmd(),
		a.clearCmd(),
		a.deleteCmd(),
		a.tagCmd(),
		a.exportCmd(),
		a.importCmd(),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	a.cfg = cfg

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if a.debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Debug().Interface("config", cfg.Redacted()).Msg("Loaded config")
	return nil
}

// withPipeline opens a pipeline for the duration of fn.
func (a *app) withPipeline(ctx context.Context, fn func(*pipeline.Pipeline) error) error {
	p, err := pipeline.NewFromConfig(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing index")
		}
	}()
	return fn(p)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("Saved output")
	return nil
}
