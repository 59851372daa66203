package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openrv/easytouch/internal/location"
	"github.com/openrv/easytouch/thermostat"
)

// setLocationCmd represents the set-location command
var setLocationCmd = &cobra.Command{
	Use:   "set-location <device-address> <latitude> <longitude>",
	Short: "Push the vehicle's location to the thermostat",
	Long: `Send a latitude/longitude pair to the thermostat, enabling its
location-aware features. Coordinates are validated before anything is
written; the device truncates them to 5 decimal places (about 1 meter).`,
	Args: cobra.ExactArgs(3),
	RunE: runSetLocation,
}

func init() {
	addDeviceFlags(setLocationCmd)
}

func runSetLocation(cmd *cobra.Command, args []string) error {
	lat, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid latitude %q: %w", args[1], err)
	}
	lon, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid longitude %q: %w", args[2], err)
	}
	// Reject bad coordinates before bothering with a connection.
	if err := location.Validate(lat, lon); err != nil {
		return err
	}
	return withClient(cmd, args[0], func(ctx context.Context, client *thermostat.Client) error {
		if err := client.SetLocation(ctx, lat, lon); err != nil {
			return err
		}
		fmt.Printf("Location set to %.5f, %.5f\n", lat, lon)
		return nil
	})
}
