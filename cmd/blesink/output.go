package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/fatih/color"
	"github.com/srg/blesink/internal/model"
	"golang.org/x/term"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

var outputFormats = []string{formatTable, formatJSON}

func validateFormat(format string) error {
	if !slices.Contains(outputFormats, format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", format, outputFormats)
	}
	return nil
}

// palette colours table cells only when the output is a terminal.
type palette struct {
	address *color.Color
	name    *color.Color
	muted   *color.Color
}

func newPalette(w io.Writer) palette {
	p := palette{
		address: color.New(color.FgCyan),
		name:    color.New(color.FgGreen, color.Bold),
		muted:   color.New(color.FgHiBlack),
	}
	if isTerminal(w) && !color.NoColor {
		p.address.EnableColor()
		p.name.EnableColor()
		p.muted.EnableColor()
	} else {
		p.address.DisableColor()
		p.name.DisableColor()
		p.muted.DisableColor()
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

const missing = "-"

func fmtTemperature(r model.SensorReading) string {
	if r.Temperature == nil {
		return missing
	}
	return fmt.Sprintf("%.2f °C", *r.Temperature)
}

func fmtHumidity(r model.SensorReading) string {
	if r.Humidity == nil {
		return missing
	}
	return fmt.Sprintf("%.2f %%", *r.Humidity)
}

func fmtPressure(r model.SensorReading) string {
	if r.Pressure == nil {
		return missing
	}
	return fmt.Sprintf("%.2f hPa", float64(*r.Pressure)/100)
}

func fmtBattery(r model.SensorReading) string {
	if r.BatteryVoltage == nil {
		return missing
	}
	return fmt.Sprintf("%d mV", *r.BatteryVoltage)
}

func fmtTxPower(r model.SensorReading) string {
	if r.TxPower == nil {
		return missing
	}
	return fmt.Sprintf("%d dBm", *r.TxPower)
}

func fmtAcceleration(r model.SensorReading) string {
	axis := func(v *int16) string {
		if v == nil {
			return missing
		}
		return fmt.Sprintf("%d", *v)
	}
	return fmt.Sprintf("%s / %s / %s mG", axis(r.AccelerationX), axis(r.AccelerationY), axis(r.AccelerationZ))
}
