package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/bryanchriswhite/StreamSnap/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage StreamSnap configuration",
	Long:  `View and manage StreamSnap configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the resolved configuration (defaults, file and environment).`,
	Example: `  # Show configuration as YAML (default)
  streamsnap config show

  # Show configuration as JSON
  streamsnap config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long:  `Set a specific configuration value and save the config file.`,
	Example: `  # Capture every 20 seconds
  streamsnap config set interval_seconds 20

  # Point at another camera
  streamsnap config set stream_url http://192.168.137.51:5000/video_feed`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a specific configuration value.`,
	Example: `  # Get the output directory
  streamsnap config get save_dir`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := configMgr.Get()
	if err != nil {
		return err
	}
	return writeConfig(cmd.OutOrStdout(), cfg, formatFlag)
}

func writeConfig(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", format)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := setValue(configMgr, key, value); err != nil {
		return err
	}

	if err := configMgr.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Configuration updated: %s = %s\n", key, value)
	return nil
}

// setValue parses value for key and validates the result
func setValue(configMgr *config.Manager, key, value string) error {
	switch key {
	case "interval_seconds", "jpeg_quality", "open_timeout_seconds":
		var num int
		if _, err := fmt.Sscanf(value, "%d", &num); err != nil {
			return fmt.Errorf("invalid number: %s", value)
		}
		if err := configMgr.Set(key, num); err != nil {
			return err
		}
	case "log_pretty":
		var enabled bool
		if _, err := fmt.Sscanf(value, "%t", &enabled); err != nil {
			return fmt.Errorf("invalid boolean: %s (use: true or false)", value)
		}
		if err := configMgr.Set(key, enabled); err != nil {
			return err
		}
	case "log_level":
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[strings.ToLower(value)] {
			return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", value)
		}
		if err := configMgr.Set(key, strings.ToLower(value)); err != nil {
			return err
		}
	default:
		if err := configMgr.Set(key, value); err != nil {
			return err
		}
	}

	cfg, err := configMgr.Get()
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	value, ok := configMgr.Lookup(key)
	if !ok {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), configMgr.GetConfigPath())
	return nil
}
