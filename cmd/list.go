package cmd

import (
	"fmt"

	"github.com/entrascope/entrascope/pkg/collectors"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available collectors",
	Run: func(cmd *cobra.Command, args []string) {
		for _, c := range collectors.Registry() {
			fmt.Printf("%-18s %s\n", c.Name(), c.Description())
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
