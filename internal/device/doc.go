// Package device defines the radio abstractions the scanner works against:
// a ScanningDevice that delivers advertisements, the Advertisement view of a
// received frame, adapter error classification and manufacturer data helpers.
//
// Concrete adapters live in the go-ble subpackage; tests substitute their own
// ScanningDevice through devicefactory.DeviceFactory.
package device
