package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hoppxi/umbra/internal/manager"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var generateConfigCmd = &cobra.Command{
	Use:   "generate-config",
	Short: "Write umbra.yaml with the default settings",
	Run: func(cmd *cobra.Command, args []string) {
		reader := bufio.NewReader(os.Stdin)
		path := configPath
		if path == "" {
			path = manager.ConfigPath()
		}

		if _, err := os.Stat(path); !os.IsNotExist(err) {
			if force, _ := cmd.Flags().GetBool("force"); !force && !confirm(reader, filepath.Base(path)+" already exists. Overwrite with defaults?") {
				return
			}
		}

		if err := writeDefaultConfig(path); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file written to", path)
	},
}

func writeDefaultConfig(path string) error {
	data, err := yaml.Marshal(manager.DefaultConfig())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func confirm(r *bufio.Reader, message string) bool {
	fmt.Printf("%s (y/N): ", message)
	input, _ := r.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

func init() {
	generateConfigCmd.Flags().BoolP("force", "f", false, "overwrite without asking")
}
