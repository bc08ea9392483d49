package testutils

import (
	"fmt"
	"testing"
	"time"

	"github.com/srg/blesink/internal/model"
	"github.com/srg/blesink/internal/ruuvi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter(t *testing.T) {
	t.Run("default options ignore trailing whitespace", func(t *testing.T) {
		rec := &recordingT{}
		ok := NewTextAsserter(rec).Assert("a  \nb\n\n", "a\nb")
		assert.True(t, ok)
		assert.Empty(t, rec.errors)
	})

	t.Run("reports unified diff", func(t *testing.T) {
		rec := &recordingT{}
		ok := NewTextAsserter(rec).Assert("a\nc", "a\nb")
		assert.False(t, ok)
		require.Len(t, rec.errors, 1)
		assert.Contains(t, rec.errors[0], "-b")
		assert.Contains(t, rec.errors[0], "+c")
	})

	t.Run("empty lines only ignored when asked", func(t *testing.T) {
		ta := NewTextAsserter(&recordingT{})
		assert.NotEmpty(t, ta.Diff("a\n\nb", "a\nb"))
		assert.Empty(t, ta.WithOptions(WithIgnoreEmptyLines(true)).Diff("a\n\nb", "a\nb"))
	})
}

func TestJSONAsserter(t *testing.T) {
	t.Run("extra keys ignored by default", func(t *testing.T) {
		rec := &recordingT{}
		ok := NewJSONAsserter(rec).Assert(`{"a":1,"b":{"c":2,"d":3}}`, `{"a":1,"b":{"c":2}}`)
		assert.True(t, ok)
	})

	t.Run("value mismatch is reported", func(t *testing.T) {
		rec := &recordingT{}
		ok := NewJSONAsserter(rec).Assert(`{"a":1}`, `{"a":2}`)
		assert.False(t, ok)
		assert.Len(t, rec.errors, 1)
	})

	t.Run("root arrays and ignored fields", func(t *testing.T) {
		ja := NewJSONAsserter(&recordingT{}).WithOptions(WithIgnoredFields("ts"))
		assert.Empty(t, ja.Diff(`[{"v":1,"ts":5},{"v":2,"ts":6}]`, `[{"v":1,"ts":0},{"v":2}]`))
		assert.NotEmpty(t, ja.Diff(`[{"v":1}]`, `[{"v":1},{"v":2}]`))
	})

	t.Run("strict mode", func(t *testing.T) {
		ja := NewJSONAsserter(&recordingT{}).WithOptions(WithIgnoreExtraKeys(false))
		assert.NotEmpty(t, ja.Diff(`{"a":1,"b":2}`, `{"a":1}`))
	})
}

func TestRuuviPayloadBuilder_RoundTripsThroughDecoder(t *testing.T) {
	payload := NewRuuviPayloadBuilder().
		WithTemperature(-12.5).
		WithHumidity(41.25).
		WithPressure(99870).
		WithAcceleration(-16, 8, 1012).
		WithPower(2950, -4).
		WithMovement(9).
		WithSequence(4242).
		Build()

	r, err := ruuvi.Decode(payload, model.Address{}, time.Unix(0, 0))
	require.NoError(t, err)
	assert.InDelta(t, -12.5, *r.Temperature, 1e-9)
	assert.InDelta(t, 41.25, *r.Humidity, 1e-9)
	assert.Equal(t, uint32(99870), *r.Pressure)
	assert.Equal(t, int16(-16), *r.AccelerationX)
	assert.Equal(t, uint16(2950), *r.BatteryVoltage)
	assert.Equal(t, int8(-4), *r.TxPower)
	assert.Equal(t, uint8(9), r.MovementCounter)
	assert.Equal(t, uint16(4242), r.Sequence)
	assert.Equal(t, "CB:B8:33:4C:88:4F", r.Address.String())
}

func TestAdvertisementBuilder(t *testing.T) {
	adv := NewAdvertisementBuilder().
		WithAddress("cb:b8:33:4c:88:4f").
		WithName("Ruuvi 884F").
		WithRSSI(-80).
		WithRuuviPayload(NewRuuviPayloadBuilder().WithSequence(1)).
		Build()

	assert.Equal(t, "cb:b8:33:4c:88:4f", adv.Addr())
	assert.Equal(t, "Ruuvi 884F", adv.LocalName())
	assert.Equal(t, -80, adv.RSSI())
	require.Len(t, adv.ManufacturerData(), 26)
	assert.Equal(t, []byte{0x99, 0x04, 0x05}, adv.ManufacturerData()[:3])
}
