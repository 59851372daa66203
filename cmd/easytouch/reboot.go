package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openrv/easytouch/thermostat"
)

// rebootCmd represents the reboot command
var rebootCmd = &cobra.Command{
	Use:   "reboot <device-address>",
	Short: "Reboot the thermostat",
	Long: `Reboot the thermostat, the standard remedy for a wedged unit.

The reboot command jumps ahead of any queued commands. The device drops
the BLE connection while restarting; that disconnect is expected and not
an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runReboot,
}

func init() {
	addDeviceFlags(rebootCmd)
}

func runReboot(cmd *cobra.Command, args []string) error {
	return withClient(cmd, args[0], func(ctx context.Context, client *thermostat.Client) error {
		if err := client.Reboot(ctx); err != nil {
			return err
		}
		fmt.Println("Reboot sent; the thermostat will drop the connection while it restarts")
		return nil
	})
}
