package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/blesink/internal/device"
	"github.com/srg/blesink/internal/ruuvi"
	"github.com/srg/blesink/internal/storage"
	"github.com/srg/blesink/scanner"
	"github.com/stretchr/testify/assert"
)

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1.2.3", "v1.2.3"},
		{"v1.2.3", "v1.2.3"},
		{"dev", "dev"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatVersion(tt.in), "formatVersion(%q)", tt.in)
	}
}

func TestFormatUserError(t *testing.T) {
	exhausted := fmt.Errorf("%w after 3 attempts: %w", scanner.ErrAdapterExhausted, errors.New("hci0: no such device"))

	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"bluetooth off", fmt.Errorf("adapter open: %w", device.ErrBluetoothOff), "Bluetooth is turned off"},
		{"no adapter", device.ErrAdapterUnavailable, "No usable Bluetooth adapter"},
		{"exhausted", exhausted, "did not recover"},
		{"plaintext refused", fmt.Errorf("opening postgres store: %w", storage.ErrInsecureConnection), "without TLS"},
		{"unknown driver", fmt.Errorf("%w: %q", storage.ErrUnknownDriver, "mysql"), "Unknown database driver"},
		{"wrong format", fmt.Errorf("payload 1: %w", &ruuvi.DecodeError{Kind: ruuvi.UnsupportedFormat, Format: 3}), "Not a RAWv2"},
		{"short payload", &ruuvi.DecodeError{Kind: ruuvi.TruncatedPayload, Format: 5, Len: 10}, "Payload too short"},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.contains)
		})
	}

	assert.Empty(t, FormatUserError(nil))
}
