package cmd

import (
	"fmt"
	"os"

	"github.com/hoppxi/umbra/internal/manager"
	"github.com/spf13/cobra"
)

var Version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "umbra",
	Version: Version,
	Short:   "Umbra dims and restores every display at once",
	Long:    "Umbra saves the brightness of the builtin panel and of helper-controlled external displays, dims them together and restores them later",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch cmd.Name() {
		case "start", "generate-config", "help", "umbra":
			return
		}

		conn, err := manager.Manage.ConnectIPC()
		if err != nil {
			fmt.Println("Error:", err)
			fmt.Println("Hint: run `umbra start` first")
			os.Exit(1)
		}
		conn.Close()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default "+manager.ConfigPath()+")")

	rootCmd.AddCommand(generateConfigCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(dimCmd)
	rootCmd.AddCommand(undimCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(displaysCmd)
	rootCmd.AddCommand(statusCmd)
}
