// Package configutil resolves settings that can come from a command flag or
// from viper (config file, environment). An explicitly set flag wins.
package configutil

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil || strings.TrimSpace(name) == "" {
		return false
	}
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

func FlagOrViperString(cmd *cobra.Command, flagName, key string) string {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetString(flagName)
		return v
	}
	if key != "" && viper.IsSet(key) {
		return viper.GetString(key)
	}
	if cmd != nil && flagName != "" {
		if v, err := cmd.Flags().GetString(flagName); err == nil {
			return v
		}
	}
	return ""
}

func FlagOrViperBool(cmd *cobra.Command, flagName, key string) bool {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetBool(flagName)
		return v
	}
	if key != "" && viper.IsSet(key) {
		return viper.GetBool(key)
	}
	if cmd != nil && flagName != "" {
		if v, err := cmd.Flags().GetBool(flagName); err == nil {
			return v
		}
	}
	return false
}

func FlagOrViperInt(cmd *cobra.Command, flagName, key string) int {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetInt(flagName)
		return v
	}
	if key != "" && viper.IsSet(key) {
		return viper.GetInt(key)
	}
	if cmd != nil && flagName != "" {
		if v, err := cmd.Flags().GetInt(flagName); err == nil {
			return v
		}
	}
	return 0
}

func FlagOrViperDuration(cmd *cobra.Command, flagName, key string) time.Duration {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetDuration(flagName)
		return v
	}
	if key != "" && viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	if cmd != nil && flagName != "" {
		if v, err := cmd.Flags().GetDuration(flagName); err == nil {
			return v
		}
	}
	return 0
}

// FlagOrViperStringSlice accepts either a YAML list or a single
// whitespace-separated string (as env vars provide).
func FlagOrViperStringSlice(cmd *cobra.Command, flagName, key string) []string {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetStringSlice(flagName)
		return cleanList(v)
	}
	if key != "" && viper.IsSet(key) {
		if raw, ok := viper.Get(key).(string); ok {
			return cleanList(strings.Fields(raw))
		}
		return cleanList(viper.GetStringSlice(key))
	}
	if cmd != nil && flagName != "" {
		if v, err := cmd.Flags().GetStringSlice(flagName); err == nil {
			return cleanList(v)
		}
	}
	return nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
