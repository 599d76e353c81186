package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/uxmcp/uxmcp/pkg/config"
)

// ValidateCmd loads and validates a configuration file without starting
// the server, exiting 1 on any load/validation error (§6's exit code 1).
type ValidateCmd struct {
	Path        string `arg:"" optional:"" name:"config" help:"Configuration file path." placeholder:"PATH"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration with defaults applied."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	path := c.Path
	if path == "" {
		path = configPath(cli)
	}
	loader := config.NewLoader(config.LoaderOptions{Path: path})
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		return fmt.Errorf("config invalid")
	}

	if c.PrintConfig {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		return nil
	}

	fmt.Printf("%s: valid\n", path)
	return nil
}
