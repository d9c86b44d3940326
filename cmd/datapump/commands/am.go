package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/datapump/am"
	"github.com/teranos/datapump/sym"
	"gopkg.in/yaml.v3"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage datapump configuration",
	Long: sym.AM + ` am — Manage datapump configuration ("I am")

Display and manage datapump configuration settings.

Configuration sources (in order of precedence):
1. Environment variables (DATAPUMP_* prefix)
2. Project config (./am.toml, searched upwards)
3. User config (~/.datapump/am.toml)
4. System config (/etc/datapump/am.toml)
5. Default values

Examples:
  datapump am show                    # Show current configuration
  datapump am show --format json      # Show configuration in JSON format
  datapump am get daemon.threads      # Get specific config value
  datapump am where                   # Show where each value comes from
  datapump am init                    # Write a starting am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current datapump configuration from all sources",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., source.url, daemon.threads)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starting am.toml",
	Long: `Write the effective configuration as a commented am.toml. Without a path
the file is written to ~/.datapump/am.toml. An existing file is kept as a
numbered backup.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAmInit,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	loaded, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := *loaded
	if cfg.Source.Password != "" {
		cfg.Source.Password = "********"
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# datapump configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# datapump configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := am.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}
	fmt.Println(v.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]  Built-in defaults")
	for i, path := range am.ConfigPaths() {
		state := "missing"
		if _, err := os.Stat(path); err == nil {
			state = "found"
		}
		fmt.Printf("  %d. %-10s %s (%s)\n", i+2, "["+string(pathSource(i))+"]", path, state)
	}
	fmt.Printf("  %d. [ENV]      DATAPUMP_* environment variables\n", len(am.ConfigPaths())+2)
	fmt.Println()

	data := pterm.TableData{{"KEY", "VALUE", "SOURCE"}}
	for _, s := range am.Settings() {
		origin := string(s.Source)
		if s.SourcePath != "" && s.Source != am.SourceDefault {
			origin = s.SourcePath
		}
		data = append(data, []string{s.Key, fmt.Sprint(s.Value), origin})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func pathSource(i int) am.ConfigSource {
	switch i {
	case 0:
		return am.SourceSystem
	case 1:
		return am.SourceUser
	default:
		return am.SourceProject
	}
}

func runAmInit(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	path := filepath.Join(am.UserConfigDir(), am.ConfigFileName)
	if len(args) == 1 {
		path = args[0]
	}
	if err := am.WriteTemplate(path, cfg); err != nil {
		return err
	}
	pterm.Success.Printf("%s Wrote %s\n", sym.AM, path)
	return nil
}
