package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mocklet/mocklet/pkg/config"
)

var validateConfigFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a mock configuration file without serving it",
	Long: `Validate a mock configuration file: JSON or YAML syntax, the document
schema, and record classification (every record must be a complete HTTP
route or a WebSocket endpoint). Exits non-zero on the first problem found.`,
	Example: `  # Validate a config file
  mocklet validate --config mocks.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := config.LoadFromFile(validateConfigFile)
		if err != nil {
			return fmt.Errorf("%s: %w", validateConfigFile, err)
		}
		fmt.Printf("%s is valid: %d routes, %d endpoints\n",
			validateConfigFile, len(doc.Routes), len(doc.Endpoints))
		return nil
	},
}

func initValidateCmd() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&validateConfigFile, "config", "c", "", "Path to mock configuration file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}
