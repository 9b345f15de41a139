package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "installer-engine",
	Short: "NixBlitz installer engine - Guided operating system installation",
	Long: `Runs the installation state machine, streams progress to connected
clients over websocket, and keeps a history of install attempts.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("listen-addr", "127.0.0.1:3030", "Address of the websocket and HTTP API")
	rootCmd.PersistentFlags().String("work-dir", "/tmp/installer-engine/config", "Configuration work directory (flake)")
	rootCmd.PersistentFlags().String("config-name", "nixblitz", "nixosConfigurations output to build")
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/attempts.db", "SQLite database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm", "FSM database directory")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket for attempt logs (empty disables archiving)")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 compatible endpoint URL")
	rootCmd.PersistentFlags().String("privilege-helper", "", "Prefix for privileged tools (sudo, doas)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json, systemd)")
	rootCmd.PersistentFlags().Bool("demo", false, "Start in demo mode")

	viper.BindPFlag("listen-addr", rootCmd.PersistentFlags().Lookup("listen-addr"))
	viper.BindPFlag("work-dir", rootCmd.PersistentFlags().Lookup("work-dir"))
	viper.BindPFlag("config-name", rootCmd.PersistentFlags().Lookup("config-name"))
	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
	viper.BindPFlag("s3-bucket", rootCmd.PersistentFlags().Lookup("s3-bucket"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
	viper.BindPFlag("s3-endpoint", rootCmd.PersistentFlags().Lookup("s3-endpoint"))
	viper.BindPFlag("privilege-helper", rootCmd.PersistentFlags().Lookup("privilege-helper"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("demo", rootCmd.PersistentFlags().Lookup("demo"))
}
