package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/threatvet/threatvet/pkg/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print threatvet version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("threatvet version: %s\n", config.Version)
	},
}
