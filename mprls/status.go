package mprls

import (
	"fmt"
	"strings"
)

// Status is the status byte returned first in every read from the device.
type Status byte

const (
	// StatusMathSaturated is set when the internal math saturated.
	StatusMathSaturated Status = 0x01
	// StatusIntegrityFailed is set when the memory integrity test failed.
	StatusIntegrityFailed Status = 0x04
	// StatusBusy is set while a conversion is in progress.
	StatusBusy Status = 0x20
	// StatusPowered is set when the device is powered.
	StatusPowered Status = 0x40

	// StatusMask selects the bits that matter for readiness. Only the
	// powered bit may be set among them for the device to be usable.
	StatusMask Status = 0b01100101
)

// Powered reports whether the powered bit is set.
func (s Status) Powered() bool { return s&StatusPowered != 0 }

// Busy reports whether a conversion is in progress.
func (s Status) Busy() bool { return s&StatusBusy != 0 }

// Ready reports whether, among the masked bits, only the powered bit is set.
func (s Status) Ready() bool { return s&StatusMask == StatusPowered }

// Err returns the error matching the error bits set in s, or nil.
//
// Math saturation takes precedence over an integrity failure.
func (s Status) Err() error {
	switch {
	case s&StatusMathSaturated != 0:
		return ErrMathSaturation
	case s&StatusIntegrityFailed != 0:
		return ErrIntegrity
	}
	return nil
}

func (s Status) String() string {
	var flags []string
	if s.Powered() {
		flags = append(flags, "powered")
	}
	if s.Busy() {
		flags = append(flags, "busy")
	}
	if s&StatusIntegrityFailed != 0 {
		flags = append(flags, "integrity-failed")
	}
	if s&StatusMathSaturated != 0 {
		flags = append(flags, "math-saturated")
	}
	if len(flags) == 0 {
		return fmt.Sprintf("0x%02x", byte(s))
	}
	return fmt.Sprintf("0x%02x(%s)", byte(s), strings.Join(flags, "|"))
}
