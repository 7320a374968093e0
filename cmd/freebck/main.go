package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"freebck-go/internal/app"
	"freebck-go/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

// newApp reads the config and creates an App. The caller must defer
// app.Close().
func newApp() (*app.App, error) {
	cfg, err := config.ReadFromFile(configPath)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:           "freebck",
	Short:         "The free backup tool",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitName string

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default(configInitName)
		if err := config.Init(configPath, cfg); err != nil {
			return err
		}
		fmt.Printf("Configuration initialized at %s\n", configPath)
		fmt.Printf("Archive: %s\n", cfg.Name)
		fmt.Printf("Backup path: %s\n", cfg.Path)
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a new snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		key, err := a.Backup(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot %s created\n", key)
		return nil
	},
}

var (
	restoreTarget      string
	restoreKeepGoing   bool
	restoreNoOverwrite bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot>",
	Short: "Restore from a snapshot",
	Long: `Restore from a snapshot.

The snapshot argument is either an exact key like "myarchive/3" or a
bare archive name, which restores that archive's latest snapshot.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Restore(cmd.Context(), args[0], restoreTarget, restoreKeepGoing, restoreNoOverwrite)
	},
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List the archive's snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.Snapshots()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No snapshots")
			return nil
		}
		for _, info := range infos {
			started := time.Unix(info.Snapshot.Started, 0).UTC().Format(time.RFC3339)
			finished := time.Unix(info.Snapshot.Finished, 0).UTC().Format(time.RFC3339)
			fmt.Printf("%s\t%s .. %s\troot %s\n", info.Key, started, finished, info.Snapshot.RootHash)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to the config file")

	configInitCmd.Flags().StringVar(&configInitName, "name", "main", "archive name")
	configCmd.AddCommand(configInitCmd)

	restoreCmd.Flags().StringVar(&restoreTarget, "target", "", "restore target directory (default: configured backup path)")
	restoreCmd.Flags().BoolVar(&restoreKeepGoing, "keep-going", false, "log and skip entries that fail instead of aborting")
	restoreCmd.Flags().BoolVar(&restoreNoOverwrite, "no-overwrite", false, "fail on files that exist but differ instead of overwriting")

	rootCmd.AddCommand(configCmd, backupCmd, restoreCmd, snapshotsCmd)
}
