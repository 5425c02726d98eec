package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "tickflow",
	Short: "tickflow - streaming market quote pipeline",
	Long: `tickflow polls quote sources, cleans ticks, aggregates rolling features,
evaluates strategies, tracks opportunities and raises risk alerts, passing every
step through durable Redis streams.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
