package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blesink/internal/model"
	"github.com/srg/blesink/internal/ruuvi"
	"github.com/srg/blesink/scanner"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover nearby sensors",
		Long: `Scan for RuuviTag broadcasts for a while and print the latest reading of
every sensor heard, in the order they were first seen. Nothing is stored.`,
		Example: `  blesink scan --duration 30s
  blesink scan --format json --allow CB:B8:33:4C:88:4F`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}

	cmd.Flags().DurationP("duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	cmd.Flags().StringP("format", "f", formatTable, "Output format (table, json)")
	cmd.Flags().StringSlice("allow", nil, "Only show sensors with these addresses")
	cmd.Flags().StringSlice("block", nil, "Hide sensors with these addresses")
	cmd.Flags().Int("retries", 2, "Adapter recovery attempts before giving up (0 retries forever)")

	return cmd
}

// sensorSummary is what scan reports per sensor.
type sensorSummary struct {
	Address string              `json:"address"`
	Name    string              `json:"name,omitempty"`
	Frames  int                 `json:"frames"`
	RSSI    int                 `json:"rssi"`
	Reading model.SensorReading `json:"reading"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg, true)
	if err != nil {
		return err
	}

	opts := cfg.Scanner
	if allow, _ := cmd.Flags().GetStringSlice("allow"); len(allow) > 0 {
		opts.AllowList = allow
	}
	if block, _ := cmd.Flags().GetStringSlice("block"); len(block) > 0 {
		opts.BlockList = append(opts.BlockList, block...)
	}
	if cmd.Flags().Changed("retries") || opts.Recovery.MaxAttempts == 0 {
		opts.Recovery.MaxAttempts, _ = cmd.Flags().GetInt("retries")
	}

	names, err := cfg.SensorNames()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	duration, _ := cmd.Flags().GetDuration("duration")
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if format == formatTable {
		fmt.Fprintf(cmd.ErrOrStderr(), "Scanning for sensors (%s). Press Ctrl+C to stop...\n", describeDuration(duration))
	}

	sensors, err := scanSensors(ctx, scanner.NewController(nil, opts, logger), names, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == formatJSON {
		list := make([]*sensorSummary, 0, sensors.Len())
		for pair := sensors.Oldest(); pair != nil; pair = pair.Next() {
			list = append(list, pair.Value)
		}
		return writeJSON(out, list)
	}
	return displaySensorsTable(out, sensors)
}

func describeDuration(d time.Duration) string {
	if d <= 0 {
		return "until interrupted"
	}
	return d.String()
}

// scanSensors runs ctrl until ctx is done and keeps the newest decodable reading per
// sensor. Undecodable frames are skipped.
func scanSensors(
	ctx context.Context,
	ctrl *scanner.Controller,
	names map[model.Address]string,
	logger *logrus.Logger,
) (*orderedmap.OrderedMap[model.Address, *sensorSummary], error) {
	raw := make(chan model.RawAdvertisement, 64)
	done := make(chan error, 1)
	go func() {
		done <- ctrl.Run(ctx, raw)
	}()

	sensors := orderedmap.New[model.Address, *sensorSummary]()
	for adv := range raw {
		r, err := ruuvi.Decode(adv.Payload, adv.Address, adv.ReceivedAt)
		if err != nil || r.Address.IsZero() {
			logger.WithFields(logrus.Fields{
				"address": adv.Address.String(),
				"error":   err,
			}).Debug("Skipping undecodable advertisement")
			continue
		}

		s, ok := sensors.Get(r.Address)
		if !ok {
			s = &sensorSummary{Address: r.Address.String(), Name: names[r.Address]}
			sensors.Set(r.Address, s)
		}
		r.DeviceName = s.Name
		s.Frames++
		s.RSSI = adv.RSSI
		s.Reading = r
	}

	if err := <-done; err != nil {
		if errors.Is(err, scanner.ErrAdapterExhausted) && sensors.Len() > 0 {
			logger.WithError(err).Warn("Adapter lost during scan, showing partial results")
			return sensors, nil
		}
		return nil, err
	}
	return sensors, nil
}

func displaySensorsTable(out io.Writer, sensors *orderedmap.OrderedMap[model.Address, *sensorSummary]) error {
	if sensors.Len() == 0 {
		_, err := fmt.Fprintln(out, "No sensors discovered")
		return err
	}

	p := newPalette(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tTEMPERATURE\tHUMIDITY\tPRESSURE\tBATTERY\tRSSI\tSEQ\tFRAMES")

	for pair := sensors.Oldest(); pair != nil; pair = pair.Next() {
		s := pair.Value
		name := s.Name
		if name == "" {
			name = missing
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d dBm\t%d\t%d\n",
			p.address.Sprint(s.Address), p.name.Sprint(name),
			fmtTemperature(s.Reading), fmtHumidity(s.Reading), fmtPressure(s.Reading),
			fmtBattery(s.Reading), s.RSSI, s.Reading.Sequence, s.Frames)
	}
	return w.Flush()
}
