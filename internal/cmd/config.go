package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/autoref/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or create autoref configuration",
	Long: `View or create autoref configuration.

Without arguments, displays the current configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/autoref/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "# Config file: (none - using defaults and environment)\n")
	}

	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// defaultConfigFile is written by config init.
const defaultConfigFile = `# autoref configuration
# Every key can also be set from the environment, e.g. AUTOREF_TELEGRAM_BOT_TOKEN.

telegram:
  # Bot API token from BotFather
  bot_token: ""
  # Only messages from this chat are accepted as referral codes
  chat_id: ""
  init_attempts: 3
  init_delay: 5s
  # Long-poll timeout in seconds
  poll_timeout: 60
  # Bot API URL template with two %s (token, method). Empty uses api.telegram.org.
  api_endpoint: ""

service:
  # Registration service root, e.g. https://example.com/api
  base_url: ""
  # 0 disables the per-request timeout
  request_timeout: 0s

mailbox:
  base_url: https://api.mail.tm

retry:
  delay: 3s
  # 0 retries until success
  max_attempts: 0

profile:
  description: AI Startup

results:
  # file or redis
  backend: file
  dir: result
  accounts_file: accounts_ref.txt
  tokens_file: tokens_ref.txt
  codes_file: reffCode.txt
  redis_url: ""
  key_prefix: autoref

inbox:
  # Lines appended to this file are delivered like operator messages
  codes_file: ""

scan:
  tokens_file: tokens.txt
  passes: 5
  accounts_file: accounts.txt

logging:
  # debug, info, warn or error
  level: info
  # Empty logs to stderr
  dir: ""
  max_size_mb: 10
  max_backups: 3
  compress: false

metrics:
  # e.g. ":9090". Empty disables /metrics, /healthz and /status.
  addr: ""
`

func runConfigInit(cmd *cobra.Command, _ []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Set telegram.bot_token, telegram.chat_id and service.base_url before running.")
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: AUTOREF_* (e.g., AUTOREF_TELEGRAM_BOT_TOKEN)")
	return nil
}
