package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the similarity index from the raw dataset and commit it",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.Build(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "snapshot    %s\n", report.Version)
	fmt.Fprintf(out, "items       %d\n", report.Items)
	fmt.Fprintf(out, "vocabulary  %d\n", report.Vocabulary)
	fmt.Fprintf(out, "empty       %d\n", report.ZeroVectors)
	fmt.Fprintf(out, "took        %s\n", report.Duration)
	return nil
}
