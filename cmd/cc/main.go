// Command cc is the cluster controller daemon: it wires C1-C10 together
// behind the CLC-facing verb handlers in internal/control and serves them
// over HTTP (spec.md §1, §6).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile         string
	configOverrideFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cc",
		Short: "Eucalyptus-style cluster controller",
		Long:  "Run the cluster controller: instance/resource caches, scheduler, power-state machine, monitor loop, and VM launch pipeline",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to main config file")
	rootCmd.PersistentFlags().StringVar(&configOverrideFile, "config-override", "", "Path to override config file, checked before --config")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configValidateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
