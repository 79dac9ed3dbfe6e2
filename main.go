package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"campaign-tracker/config"
	"campaign-tracker/logging"
	"campaign-tracker/models"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

type rootOptions struct {
	configPath string
}

func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded environment from .env")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		log.Printf("❌ %v", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "campaign-tracker",
		Short:         "Scheduled email campaigns with open tracking over a shared sheet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to the YAML config file")

	root.AddCommand(newServeCmd(opts), newDispatchCmd(opts))
	return root
}

// loadConfig reads the config and points logging at the configured sinks.
func loadConfig(opts *rootOptions, prefix string) (*config.Config, func(), error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		if !errors.Is(err, config.ErrInvalidConfig) {
			err = fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		return nil, nil, err
	}

	out, closeLog := logging.Setup(cfg.Logging, prefix)
	gin.DefaultWriter = out
	gin.DefaultErrorWriter = out

	log.Printf("Configuration loaded successfully")
	log.Printf("Environment: %s", cfg.App.Env)

	return cfg, func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "closing log file: %v\n", err)
		}
	}, nil
}

// exitCode maps startup configuration problems to 2 and everything else to 1.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, errStoreUnavailable),
		models.IsMissingCredentials(err):
		return exitConfig
	}
	return exitError
}
