package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openrv/easytouch/internal/protocol"
	"github.com/openrv/easytouch/thermostat"
)

// setModeCmd represents the set-mode command
var setModeCmd = &cobra.Command{
	Use:   "set-mode <device-address> <mode>",
	Short: "Set the HVAC mode",
	Long: `Set the thermostat's HVAC operating mode.

Modes: off, fan, cool, heat, auto`,
	Args: cobra.ExactArgs(2),
	RunE: runSetMode,
}

// setFanCmd represents the set-fan command
var setFanCmd = &cobra.Command{
	Use:   "set-fan <device-address> <fan-mode>",
	Short: "Set the fan mode",
	Long: `Set the fan mode for the thermostat's current HVAC mode.

Fan modes: off, low, high, auto`,
	Args: cobra.ExactArgs(2),
	RunE: runSetFan,
}

// setTempCmd represents the set-temp command
var setTempCmd = &cobra.Command{
	Use:   "set-temp <device-address> <setpoint> <degrees-f>",
	Short: "Set a target temperature",
	Long: `Set one of the thermostat's target temperatures, in whole degrees
Fahrenheit (40-99).

Setpoints: heat, cool, dry, auto_heat, auto_cool`,
	Args: cobra.ExactArgs(3),
	RunE: runSetTemp,
}

func init() {
	addDeviceFlags(setModeCmd)
	addDeviceFlags(setFanCmd)
	addDeviceFlags(setTempCmd)
}

func runSetMode(cmd *cobra.Command, args []string) error {
	mode, err := protocol.ParseMode(args[1])
	if err != nil {
		return err
	}
	return withClient(cmd, args[0], func(ctx context.Context, client *thermostat.Client) error {
		if err := client.SetMode(ctx, mode); err != nil {
			return err
		}
		fmt.Printf("Mode set to %s\n", mode)
		return nil
	})
}

func runSetFan(cmd *cobra.Command, args []string) error {
	fan, err := protocol.ParseFanMode(args[1])
	if err != nil {
		return err
	}
	return withClient(cmd, args[0], func(ctx context.Context, client *thermostat.Client) error {
		if err := client.SetFanMode(ctx, fan); err != nil {
			return err
		}
		fmt.Printf("Fan mode set to %s\n", fan)
		return nil
	})
}

func runSetTemp(cmd *cobra.Command, args []string) error {
	kind, err := protocol.ParseSetpointKind(args[1])
	if err != nil {
		return err
	}
	value, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid temperature %q: %w", args[2], err)
	}
	return withClient(cmd, args[0], func(ctx context.Context, client *thermostat.Client) error {
		if err := client.SetSetpoint(ctx, kind, value); err != nil {
			return err
		}
		fmt.Printf("%s set to %.0f°F\n", args[1], value)
		return nil
	})
}
