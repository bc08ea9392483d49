package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blesink/internal/model"
	"github.com/srg/blesink/internal/ruuvi"
)

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <hex-payload>...",
		Short: "Decode captured RAWv2 payloads",
		Long: `Decode one or more RuuviTag RAWv2 (data format 5) payloads given as hex.

The company id prefix (9904), a 0x prefix and separators (spaces, colons,
dashes) are accepted. The sensor MAC comes from the payload unless --mac
is given.`,
		Example: `  blesink decode 0512FC5394C37C0004FFFC040CAC364200CDCBB8334C884F
  blesink decode --format json 99040512FC5394C37C0004FFFC040CAC364200CDCBB8334C884F`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return ErrNoPayload
			}
			return nil
		},
		RunE: runDecode,
	}

	cmd.Flags().StringP("format", "f", formatTable, "Output format (table, json)")
	cmd.Flags().String("mac", "", "Radio address to attribute the payloads to")

	return cmd
}

func runDecode(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}

	var addr model.Address
	if mac, _ := cmd.Flags().GetString("mac"); mac != "" {
		a, err := model.ParseAddress(mac)
		if err != nil {
			return err
		}
		addr = a
	}

	now := time.Now().UTC()
	readings := make([]model.SensorReading, 0, len(args))
	for i, arg := range args {
		payload, err := ruuvi.ParseHex(arg)
		if err != nil {
			return fmt.Errorf("payload %d: %w", i+1, err)
		}
		r, err := ruuvi.Decode(payload, addr, now)
		if err != nil {
			return fmt.Errorf("payload %d: %w", i+1, err)
		}
		readings = append(readings, r)
	}

	out := cmd.OutOrStdout()
	if format == formatJSON {
		return writeJSON(out, readings)
	}
	return displayReadings(out, readings)
}

func displayReadings(out io.Writer, readings []model.SensorReading) error {
	p := newPalette(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	for i, r := range readings {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Address:\t%s\n", p.address.Sprint(r.Address.String()))
		fmt.Fprintf(w, "Temperature:\t%s\n", fmtTemperature(r))
		fmt.Fprintf(w, "Humidity:\t%s\n", fmtHumidity(r))
		fmt.Fprintf(w, "Pressure:\t%s\n", fmtPressure(r))
		fmt.Fprintf(w, "Acceleration:\t%s\n", fmtAcceleration(r))
		fmt.Fprintf(w, "Battery:\t%s\n", fmtBattery(r))
		fmt.Fprintf(w, "TX power:\t%s\n", fmtTxPower(r))
		fmt.Fprintf(w, "Movements:\t%d\n", r.MovementCounter)
		fmt.Fprintf(w, "Sequence:\t%d\n", r.Sequence)
	}
	return w.Flush()
}
