package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/hoppxi/umbra/internal/manager"
	"github.com/hoppxi/umbra/pkg/brightness"
	"github.com/spf13/cobra"
)

// send forwards one command to the daemon and returns the reply body. An ERR
// reply or a dead socket ends the process.
func send(command string) string {
	response, err := manager.Manage.SendIPCCommand(command)
	if err != nil {
		fmt.Printf("Error: %v (Is the daemon running?)\n", err)
		os.Exit(1)
	}
	if body, ok := strings.CutPrefix(response, "ERR: "); ok {
		fmt.Println("Error:", body)
		os.Exit(1)
	}
	return strings.TrimPrefix(response, "OK: ")
}

// levelArg validates a level locally so typos never reach the daemon.
func levelArg(arg string) string {
	v, err := brightness.ParseLevel(arg)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	return v.String()
}

var dimCmd = &cobra.Command{
	Use:   "dim [level]",
	Short: "Save every display's brightness and dim them (level like 0.1 or 10%)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		command := "DIM"
		if len(args) == 1 {
			command += " " + levelArg(args[0])
		}
		fmt.Println(send(command))
	},
}

var undimCmd = &cobra.Command{
	Use:   "undim",
	Short: "Restore the brightness saved by the last dim",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(send("UNDIM"))
	},
}

var setCmd = &cobra.Command{
	Use:   "set <level>",
	Short: "Set every display to level without saving",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(send("SET " + levelArg(args[0])))
	},
}

type reading struct {
	Display struct {
		Handle           uint32 `json:"handle"`
		Name             string `json:"name"`
		Kind             string `json:"kind"`
		ExternalIdentity string `json:"external_identity"`
	} `json:"display"`
	Value brightness.Value `json:"value"`
	OK    bool             `json:"ok"`
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current brightness of every display",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		body := send("GET")
		if raw, _ := cmd.Flags().GetBool("json"); raw {
			fmt.Println(body)
			return
		}

		var readings []reading
		if err := json.Unmarshal([]byte(body), &readings); err != nil {
			fmt.Println("Error: unexpected reply:", err)
			os.Exit(1)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DISPLAY\tKIND\tBRIGHTNESS")
		for _, r := range readings {
			level := "unavailable"
			if r.OK {
				level = fmt.Sprintf("%d%%", r.Value.Percent())
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Display.Name, r.Display.Kind, level)
		}
		w.Flush()
	},
}

var displaysCmd = &cobra.Command{
	Use:   "displays",
	Short: "List connected displays and their helper identities",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		body := send("DISPLAYS")
		if raw, _ := cmd.Flags().GetBool("json"); raw {
			fmt.Println(body)
			return
		}

		var displays []struct {
			Handle           uint32 `json:"handle"`
			Name             string `json:"name"`
			Kind             string `json:"kind"`
			ExternalIdentity string `json:"external_identity"`
		}
		if err := json.Unmarshal([]byte(body), &displays); err != nil {
			fmt.Println("Error: unexpected reply:", err)
			os.Exit(1)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "HANDLE\tDISPLAY\tKIND\tHELPER IDENTITY")
		for _, d := range displays {
			identity := d.ExternalIdentity
			if identity == "" {
				identity = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.Handle, d.Name, d.Kind, identity)
		}
		w.Flush()
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild the mapping between displays and helper identities",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(send("REFRESH"))
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that the external display helper answers",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(send("TEST"))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon state and saved levels",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(send("STATUS"))
	},
}

func init() {
	getCmd.Flags().Bool("json", false, "print the raw reply")
	displaysCmd.Flags().Bool("json", false, "print the raw reply")
}
