package cmd

import (
	"fmt"
	"strings"

	"github.com/hoppxi/umbra/internal/manager"
	"github.com/spf13/cobra"
)

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Restore displays and stop the daemon.",
	Run: func(cmd *cobra.Command, args []string) {
		response, err := manager.Manage.SendIPCCommand("STOP")
		if err != nil {
			fmt.Printf("Error: %v (Is the daemon running?)\n", err)
			return
		}

		fmt.Printf("Server response: %s\n", response)

		if strings.HasPrefix(response, "OK") {
			fmt.Println("Umbra daemon successfully shut down.")
		}
	},
}
