package main

import (
	"context"
	"os"
	"runtime/debug"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tmscan/cmd/tmscan/grammars"
	"github.com/walteh/tmscan/cmd/tmscan/plan"
	"github.com/walteh/tmscan/cmd/tmscan/scan"
	"github.com/walteh/tmscan/pkg/config"
	"github.com/walteh/tmscan/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		println(err.Error())
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:           "tmscan",
		Short:         "Scan text into TextMate scopes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: tmscan.yaml, tmscan.yml or tmscan.hcl in the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		wd, err := os.Getwd()
		if err != nil {
			return errors.Errorf("getting working directory: %w", err)
		}

		cfg, err := config.Find(afero.NewOsFs(), wd, configPath)
		if err != nil {
			return err
		}

		opts := cfg.LogOptions()
		if logLevel != "" {
			opts.Level = logLevel
		}
		if opts.Level == "" {
			opts.Level = "warn"
		}
		logger, err := logging.New(cmd.ErrOrStderr(), opts)
		if err != nil {
			return err
		}

		ctx := logger.WithContext(cmd.Context())
		cmd.SetContext(config.WithContext(ctx, cfg))
		return nil
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		rootCmd.Version = "unknown"
	} else {
		rootCmd.Version = info.Main.Version
	}

	cmdVersion := &cobra.Command{
		Use: "raw-version",
		Run: func(cmdz *cobra.Command, args []string) {
			cmdz.Println(rootCmd.Version)
		},
		Hidden: true,
	}

	rootCmd.AddCommand(cmdVersion)

	rootCmd.AddCommand(scan.NewScanCommand())
	rootCmd.AddCommand(plan.NewPlanCommand())
	rootCmd.AddCommand(grammars.NewGrammarsCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		return errors.Errorf("failed to execute command: %w", err)
	}

	return nil
}
