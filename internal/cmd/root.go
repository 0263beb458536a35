package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/autoref/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "autoref",
	Short: "Referral-code account provisioning driven from Telegram",
	Long: `autoref provisions accounts on the registration service one at a time.
Each account is registered, given a profile, and then paused until the
operator sends a referral code to the Telegram bot. Accepted accounts and
tokens are written to the results store and the next account is started.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.config/autoref/config.yaml)")
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("AUTOREF")
	// Replace dots with underscores for nested keys in env vars
	// e.g., AUTOREF_TELEGRAM_BOT_TOKEN for telegram.bot_token
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
