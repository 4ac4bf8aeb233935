package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:               "open-ils",
	Short:             "open-ils routes library catalog operations across several ILS backends.",
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: prepareCommand,
}

var metricsAddr string

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs (default $METRICS_ADDR)")
	rootCmd.AddCommand(backendsCmd, probeCmd, statusCmd, loginCmd, profileCmd, callCmd)
}
