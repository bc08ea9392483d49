package storage

import (
	"fmt"
	"strings"
)

const readingsTable = "sensor_readings"

var readingColumns = []string{
	"device_id",
	"sequence_number",
	"sensor_mac",
	"sensor_name",
	"measured_at",
	"temperature",
	"humidity",
	"pressure",
	"acceleration_x",
	"acceleration_y",
	"acceleration_z",
	"battery_voltage",
	"tx_power",
	"movement_counter",
	"wraparound",
}

func (r row) args() []any {
	return []any{
		r.DeviceID,
		r.Sequence,
		r.MAC,
		r.Name,
		r.MeasuredAt,
		r.Temperature,
		r.Humidity,
		r.Pressure,
		r.AccelerationX,
		r.AccelerationY,
		r.AccelerationZ,
		r.BatteryVoltage,
		r.TxPower,
		r.MovementCounter,
		r.Wraparound,
	}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	device_id        TEXT             NOT NULL,
	sequence_number  INTEGER          NOT NULL,
	sensor_mac       TEXT             NOT NULL,
	sensor_name      TEXT             NOT NULL DEFAULT '',
	measured_at      TIMESTAMPTZ      NOT NULL,
	temperature      DOUBLE PRECISION,
	humidity         DOUBLE PRECISION,
	pressure         BIGINT,
	acceleration_x   INTEGER,
	acceleration_y   INTEGER,
	acceleration_z   INTEGER,
	battery_voltage  INTEGER,
	tx_power         INTEGER,
	movement_counter INTEGER          NOT NULL,
	wraparound       BOOLEAN          NOT NULL DEFAULT FALSE,
	ingested_at      TIMESTAMPTZ      NOT NULL DEFAULT now(),
	PRIMARY KEY (device_id, sequence_number)
);
CREATE INDEX IF NOT EXISTS sensor_readings_measured_at_idx ON sensor_readings (device_id, measured_at);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sensor_readings (
	device_id        TEXT      NOT NULL,
	sequence_number  INTEGER   NOT NULL,
	sensor_mac       TEXT      NOT NULL,
	sensor_name      TEXT      NOT NULL DEFAULT '',
	measured_at      TIMESTAMP NOT NULL,
	temperature      REAL,
	humidity         REAL,
	pressure         INTEGER,
	acceleration_x   INTEGER,
	acceleration_y   INTEGER,
	acceleration_z   INTEGER,
	battery_voltage  INTEGER,
	tx_power         INTEGER,
	movement_counter INTEGER   NOT NULL,
	wraparound       BOOLEAN   NOT NULL DEFAULT 0,
	ingested_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (device_id, sequence_number)
);
CREATE INDEX IF NOT EXISTS sensor_readings_measured_at_idx ON sensor_readings (device_id, measured_at);
`

// upsertStatement renders the idempotent insert. placeholder maps a 1-based column
// index to the driver's bind syntax; now is the dialect's current-time expression.
func upsertStatement(placeholder func(int) string, now string) string {
	binds := make([]string, len(readingColumns))
	for i := range readingColumns {
		binds[i] = placeholder(i + 1)
	}

	var updates []string
	for _, c := range readingColumns[2:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	updates = append(updates, "ingested_at = "+now)

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (device_id, sequence_number) DO UPDATE SET %s",
		readingsTable,
		strings.Join(readingColumns, ", "),
		strings.Join(binds, ", "),
		strings.Join(updates, ", "),
	)
}
