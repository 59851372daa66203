package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "easytouch",
	Short: "Micro-Air EasyTouch RV thermostat bridge",
	Long: `Command-line bridge for Micro-Air EasyTouch RV thermostats over BLE:

- Scan for nearby EasyTouch thermostats
- Watch live thermostat state as it changes
- Set HVAC mode, fan mode, and target temperatures
- Reboot a wedged thermostat without climbing to the faceplate
- Push the vehicle's location for schedule-aware features
- Serve the thermostat to Home Assistant over MQTT

The thermostat allows a single BLE central at a time; close the vendor
mobile app before connecting.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	// Add subcommands
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(setModeCmd)
	rootCmd.AddCommand(setFanCmd)
	rootCmd.AddCommand(setTempCmd)
	rootCmd.AddCommand(rebootCmd)
	rootCmd.AddCommand(setLocationCmd)
	rootCmd.AddCommand(serveCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
