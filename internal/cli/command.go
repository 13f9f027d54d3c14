package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jaimo012/hanwha-qcells-translation/internal"
)

// CreateRootCommand creates and configures the root cobra command
func CreateRootCommand(flags *Flags) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hqtranslate",
		Short: "Korean office-document batch translator",
		Long: `hqtranslate translates Korean Word, PowerPoint and Excel documents
into English, driven by a task ledger so interrupted runs resume where
they stopped.

Examples:
  hqtranslate seed                # Register origin-folder documents in the ledger
  hqtranslate translate           # Translate every pending ledger task
  hqtranslate verify              # Re-check completed documents for leftover Korean
  hqtranslate review              # Fill the final-review ledger
  hqtranslate --list-models       # List OpenAI models for the current API key`,
		Version: internal.Version,
	}

	setupFlags(rootCmd, flags)

	return rootCmd
}

func setupFlags(cmd *cobra.Command, flags *Flags) {
	// Global flags
	cmd.PersistentFlags().StringVar(&flags.CfgFile, "config", "", "config file (default is $HOME/.hqtranslate.yaml)")
	cmd.PersistentFlags().StringVar(&flags.Provider, "provider", flags.Provider, "Translation provider: gemini or openai")
	cmd.PersistentFlags().StringVar(&flags.Model, "model", "", "Model name (default depends on provider)")
	cmd.PersistentFlags().StringVar(&flags.OriginFolder, "origin", "", "Folder holding the untranslated documents")
	cmd.PersistentFlags().StringVar(&flags.CompletedFolder, "completed", "", "Folder receiving backups and working copies")
	cmd.PersistentFlags().StringVar(&flags.LedgerPath, "ledger", "", "Path of the task ledger database")
	cmd.PersistentFlags().StringVar(&flags.GlossaryPath, "glossary", "", "Path of the glossary workbook")

	// Local flags
	cmd.Flags().BoolVar(&flags.ListModels, "list-models", false, "List available OpenAI models for the current API key")

	// Bind flags to viper
	bindFlagsToViper(cmd)
}

func bindFlagsToViper(cmd *cobra.Command) {
	viper.BindPFlag("translate.provider", cmd.PersistentFlags().Lookup("provider"))
	viper.BindPFlag("translate.model", cmd.PersistentFlags().Lookup("model"))
	viper.BindPFlag("folders.origin", cmd.PersistentFlags().Lookup("origin"))
	viper.BindPFlag("folders.completed", cmd.PersistentFlags().Lookup("completed"))
	viper.BindPFlag("ledger.path", cmd.PersistentFlags().Lookup("ledger"))
	viper.BindPFlag("glossary.path", cmd.PersistentFlags().Lookup("glossary"))
}

// InitConfig initializes viper configuration
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting home directory: %v\n", err)
			return
		}

		// Search config in home directory with name ".hqtranslate" (without extension)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".hqtranslate")
	}

	// Environment variables
	viper.SetEnvPrefix("HQTRANSLATE")
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// GetOpenAIKey retrieves the OpenAI API key from environment or config
func GetOpenAIKey() string {
	// First check environment variable
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key
	}

	// Then check config file
	return viper.GetString("translate.openai_key")
}

// GetGeminiKey retrieves the Gemini API key from environment or config
func GetGeminiKey() string {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}

	return viper.GetString("translate.gemini_key")
}
