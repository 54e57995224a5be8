package main

import (
	"os"

	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "aotlift",
	Short: "Lift AOT-compiled managed functions back to pseudocode",
	Long: `aotlift walks the native code of functions compiled ahead of time from a
managed runtime and recovers field accesses, calls, allocations and control
flow using the program's type metadata.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetHandler(clihandler.Default)
		if verbose {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.InfoLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "debug logging")
	rootCmd.AddCommand(liftCmd, disasmCmd, callgraphCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("aotlift")
		os.Exit(1)
	}
}
