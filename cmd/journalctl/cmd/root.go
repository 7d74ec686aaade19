package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var storeDir string

var rootCmd = &cobra.Command{
	Use:   "journalctl",
	Short: "Exercise and inspect a journallayer store directory",
	Long: `journalctl opens a journallayer store directory and runs one-shot
transactions against it: create, update or delete an object or a
recoverable temporary, force a recovery pass, or print what a fresh
Open/Recover sees on disk.

It exists to exercise the library by hand; it is not the intended way
a real application consumes journallayer.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "journalctl: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeDir, "dir", "", "path to the store directory (defaults to $JOURNALCTL_DIR or ./journalstore-data)")
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	viper.SetEnvPrefix("JOURNALCTL")
	viper.AutomaticEnv()
	viper.SetDefault("dir", "./journalstore-data")

	viper.SetConfigName("journalctl")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.journalctl")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "journalctl: reading config: %v\n", err)
		}
	}

	if storeDir == "" {
		storeDir = viper.GetString("dir")
	}
}
