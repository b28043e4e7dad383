package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/minipay/onboarding/pkg/onboard"
)

var Version = "dev"

type rootFlags struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "onboarding",
		Short:         "Principal provisioning and onboarding service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(flags.envFile, cmd.Flags().Changed("env-file"))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", os.Getenv("ONBOARD_CONFIG"), "path to YAML config (env ONBOARD_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before config")

	rootCmd.AddCommand(serveCmd(flags))
	rootCmd.AddCommand(provisionCmd(flags))
	rootCmd.AddCommand(reconcileCmd(flags))
	rootCmd.AddCommand(orphansCmd(flags))
	rootCmd.AddCommand(configCmd(flags))

	return rootCmd
}

// loadEnvFile loads dotenv values without overriding the real environment.
// A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func loadConfig(flags *rootFlags) (*onboard.Config, error) {
	cfg, err := onboard.LoadConfig(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openApp builds an App for one-shot commands. No routes or background
// sweeper are started.
func openApp(ctx context.Context, flags *rootFlags, opts ...onboard.Option) (*onboard.App, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	return onboard.NewApp(ctx, cfg, append([]onboard.Option{onboard.WithoutRoutes()}, opts...)...)
}
