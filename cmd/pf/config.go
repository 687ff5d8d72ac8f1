package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/printfleet/printfleet/internal/config"
	"github.com/printfleet/printfleet/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Read and change printfleet settings",
	GroupID: "setup",
	Long: `Settings come from, in increasing precedence: built-in defaults, the
user config ($XDG_CONFIG_HOME/printfleet/config.yaml), the project's
.printfleet/config.yaml, and PF_* environment variables (PF_STATUS_INTERVAL
for status.interval). 'pf config set' edits the project file in place.`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a setting",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		if !config.IsKnownKey(key) {
			FatalErrorWithHint(fmt.Sprintf("unknown config key %q", key), "Run 'pf config list' to see every key")
		}
		value := settingString(key)
		if jsonOutput {
			outputJSON(map[string]string{"key": key, "value": value})
			return
		}
		fmt.Println(value)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting in .printfleet/config.yaml",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.SetYamlConfig(args[0], args[1]); err != nil {
			FatalError("%v", err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"key": args[0], "value": args[1]})
			return
		}
		fmt.Printf("%s %s = %s\n", ui.RenderPassIcon(), args[0], args[1])
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every setting and its value",
	Run: func(cmd *cobra.Command, args []string) {
		keys := append([]string(nil), config.Keys...)
		sort.Strings(keys)
		if jsonOutput {
			out := make(map[string]string, len(keys))
			for _, k := range keys {
				out[k] = settingString(k)
			}
			outputJSON(out)
			return
		}
		if path := config.ConfigFileUsed(); path != "" {
			fmt.Printf("%s\n\n", ui.RenderMuted("config file: "+path))
		}
		t := ui.NewTable("KEY", "VALUE", "SOURCE")
		for _, k := range keys {
			source := ui.RenderMuted("default")
			if config.IsSet(k) {
				source = "set"
			}
			t.Row(k, settingString(k), source)
		}
		fmt.Print(t.String())
	},
}

// settingString renders a setting for display. Secrets are masked.
func settingString(key string) string {
	v := config.GetString(key)
	if v != "" && (strings.HasSuffix(key, "password") || strings.HasSuffix(key, "token") || strings.HasSuffix(key, "api-key")) {
		return "********"
	}
	return v
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
