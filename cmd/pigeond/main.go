package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/matheus3301/pigeon/internal/config"
	"github.com/matheus3301/pigeon/internal/daemon"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, instance, listen string

	flagSet := pflag.NewFlagSet("pigeond", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "config file (default ~/.pigeon/config.toml)")
	flagSet.StringVar(&instance, "instance", "", "instance name (overrides config)")
	flagSet.StringVar(&listen, "listen", "", "HTTP listen address (overrides config)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if instance != "" {
		cfg.Instance = instance
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w (run \"pigeonctl init\" to create one)", err)
	}

	fx.New(daemon.Module(daemon.Params{Config: cfg})).Run()
	return nil
}

// loadConfig reads an explicit path strictly and the default path leniently.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadOrDefault(config.Path())
}
