package main

import (
	"fmt"
	"os"

	"github.com/goran-ethernal/ChainSync/internal/config"
	pkgconfig "github.com/goran-ethernal/ChainSync/pkg/config"
	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║           ChainSync v%s                ║
║   Chain Event Sync and Search Engine      ║
╚═══════════════════════════════════════════╝
`
)

var (
	configPath string
	envFiles   []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chainsync",
	Short: "ChainSync - chain event sync engine",
	Long: `ChainSync mirrors contract events into queryable document collections.
It backfills history in chunks, follows the chain head, rolls back reorged
blocks and keeps a full-text index over market creation events.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the highest synced block of every collection",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Query the full-text index built from the local database",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := pkgconfig.JSONSchema()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var searchLimit int

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the configuration")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of hits (0 uses the configured default)")

	rootCmd.AddCommand(statusCmd, searchCmd, schemaCmd)
}

func loadConfig() (*pkgconfig.Config, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
