package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alxayo/rp-session/internal/logger"
)

const version = "0.1.0"

var (
	cfgFile  string
	hostFlag string
	ps5Flag  bool
	logLevel string
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "rpclient",
	Short: "Remote Play session orchestrator client",
	Long:  `rpclient negotiates, authenticates, and hands off a Remote Play session to an A/V streaming subsystem.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rpclient v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/rpclient/rpclient.yaml)")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "console host name or IP address")
	rootCmd.PersistentFlags().BoolVar(&ps5Flag, "ps5", false, "target a PS5 console instead of a PS4")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	_ = v.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	_ = v.BindPFlag("ps5", rootCmd.PersistentFlags().Lookup("ps5"))
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(connectCmd)
}

func main() {
	logger.Init()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
