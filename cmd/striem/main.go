package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/striemhq/striem/internal/app"
	"github.com/striemhq/striem/internal/config"
	"github.com/striemhq/striem/internal/logging"
	"github.com/striemhq/striem/internal/registry"
)

// version is stamped by the build.
var version = "dev"

const (
	exitOK      = 0
	exitConfig  = 1
	exitStorage = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var configFile string

	root := &cobra.Command{
		Use:           "striem",
		Short:         "StrIEM streaming SIEM daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file (yaml, toml or json)")

	var exitCode int

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest, detection and storage pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = serveCmd(configFile)
			if exitCode != exitOK {
				return fmt.Errorf("exit %d", exitCode)
			}
			return nil
		},
	}

	collectorConfig := &cobra.Command{
		Use:   "collector-config",
		Short: "Print the generated upstream collector configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = collectorConfigCmd(configFile)
			if exitCode != exitOK {
				return fmt.Errorf("exit %d", exitCode)
			}
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	root.AddCommand(serve, collectorConfig, versionCmd)
	root.RunE = serve.RunE

	if err := root.Execute(); err != nil {
		if exitCode != exitOK {
			return exitCode
		}
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	return exitOK
}

func serveCmd(configFile string) int {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	log := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(log)

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error("startup failed", logging.Error(err))
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting StrIEM", "version", version)
	if err := a.Run(ctx); err != nil {
		log.Error("pipeline failed", logging.Error(err))
		// anything fatal past boot is an unrecoverable runtime failure
		return exitStorage
	}
	log.Info("StrIEM stopped")
	return exitOK
}

func collectorConfigCmd(configFile string) int {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	log := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	rulesDir := ""
	if len(cfg.Detections) > 0 {
		rulesDir = cfg.Detections[0]
	}
	reg := registry.New(rulesDir, cfg.API.DataDir, log)
	if _, err := reg.LoadDir(cfg.Detections...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	doc, err := reg.CollectorConfigTOML(registry.CollectorOptions{
		IngestAddress: cfg.Input.Vector.Address,
		RemapsDir:     cfg.Remaps,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	os.Stdout.Write(doc)
	return exitOK
}
