// Command kensaku runs the hybrid retrieval server and its maintenance commands.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hyperjump/kensaku/internal/config"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kensaku/config.yaml"

var (
	configPath string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "kensaku",
	Short: "Hybrid semantic retrieval over chunk collections",
	Long: `kensaku keeps a per-collection vector index over stored chunks and answers
queries by merging it with an external dense store or a keyword index.

Indices are built lazily on first query and cached on disk; concurrent
queries against an unbuilt collection share one build.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
}

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory takes precedence if it exists. When neither file exists the
// built-in defaults are used. Returns the config and the path it belongs to.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, path, nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// loadValidConfig loads and validates the config named by --config.
func loadValidConfig() (*config.Config, string, error) {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

func main() {
	// .env is optional; it supplies OPENAI_API_KEY and friends during development.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
