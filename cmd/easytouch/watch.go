package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openrv/easytouch/internal/protocol"
	"github.com/openrv/easytouch/thermostat"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <device-address>",
	Short: "Watch live thermostat state",
	Long: `Connect to a thermostat and stream its state as it changes.

The first full status is printed as a snapshot; after that every field
change is printed as it arrives. The connection is kept alive until
Ctrl+C, reconnecting automatically if the device drops the link.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	// Same device flags as the one-shot commands, but watching has no
	// natural deadline.
	watchCmd.Flags().StringVarP(&deviceConfig, "config", "c", "", "YAML config file (address/password/tuning)")
	watchCmd.Flags().StringVarP(&devicePassword, "password", "p", "", "Device password from the vendor app")
	watchCmd.Flags().DurationVar(&deviceTimeout, "timeout", 0, "Stop watching after this long (0 for forever)")
	watchCmd.Flags().Bool("verbose", false, "Enable verbose logging")
}

var (
	sessionColor = color.New(color.FgYellow)
	fieldColor   = color.New(color.FgCyan)
	valueColor   = color.New(color.FgGreen, color.Bold)
)

func runWatch(cmd *cobra.Command, args []string) error {
	return withClient(cmd, args[0], func(ctx context.Context, client *thermostat.Client) error {
		changeCh := make(chan thermostat.StateChange, 64)
		client.OnStateChanged(func(ch thermostat.StateChange) {
			select {
			case changeCh <- ch:
			default:
				// Terminal fell behind; the next snapshot shows the truth.
			}
		})

		fmt.Printf("Watching %s (Ctrl+C to stop)\n", client.Address())

		// Session transitions are polled: watch cares about every hop
		// (connecting, discovering, degraded), not just active/gone.
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		lastSession := thermostat.SessionState("")
		printedSnapshot := false

		for {
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.Canceled) {
					return nil
				}
				return ctx.Err()
			case ch := <-changeCh:
				if !printedSnapshot {
					// First change means the first frame merged; show the
					// whole snapshot once, then switch to deltas.
					printSnapshot(client.GetState())
					printedSnapshot = true
					continue
				}
				printChange(ch)
			case <-ticker.C:
				if st := client.SessionState(); st != lastSession {
					lastSession = st
					sessionColor.Printf("── session: %s\n", st)
				}
			}
		}
	})
}

func printSnapshot(st thermostat.DeviceState) {
	fmt.Println()
	if st.Serial != "" {
		fmt.Printf("serial: %s\n", st.Serial)
	}
	kinds := make([]string, 0, len(st.Fields))
	for k := range st.Fields {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fv := st.Fields[protocol.FieldKind(k)]
		fieldColor.Printf("%-24s", k)
		valueColor.Printf(" %v\n", fv.Value)
	}
	fmt.Println()
}

func printChange(ch thermostat.StateChange) {
	fmt.Printf("%s  ", time.Now().Format("15:04:05"))
	fieldColor.Printf("%-24s", string(ch.Kind))
	if ch.Old != nil {
		fmt.Printf(" %v -> ", ch.Old)
	} else {
		fmt.Print(" ")
	}
	valueColor.Printf("%v\n", ch.New)
}
