package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/berlinonline/fisbroker-harvester/internal/cmd/harvest"
)

func NewRootCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "fisbroker-harvester",
		Short: "Harvests geospatial metadata from FIS-Broker into a catalog",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Welcome to the FIS-Broker harvester!")
		},
	}

	cmd.AddCommand(harvest.NewCommand())
	cmd.AddCommand(harvest.NewReimportCommand())

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
