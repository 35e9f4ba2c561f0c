package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sznuper/sqlwatch/internal/query"
)

var hashCmd = &cobra.Command{
	Use:   "hash <file>",
	Short: "Print the sha256 hash of a query file",
	Long:  "Prints the sha256 of a query file for pinning it with a probe's sha256 key.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := query.HashFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)
}
