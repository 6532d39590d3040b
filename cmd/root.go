package cmd

import (
	"github.com/spf13/cobra"
)

func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentic",
		Short: "Agentic research and content-generation backend",
		Long:  `Backend orchestrating planned, tool-using runs that produce research, reports, templates, chart sets, and plans.`,
	}

	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(WorkerCmd())
	rootCmd.AddCommand(DebugCmd())

	return rootCmd
}
