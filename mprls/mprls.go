package mprls

import (
	"errors"
	"fmt"
	"math"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

const (
	// DefaultAddress is the factory I²C address of the sensor.
	DefaultAddress uint16 = 0x18

	// ReadTimeout bounds the wait for a conversion, measured from the
	// moment the measure command is written.
	ReadTimeout = 20 * time.Millisecond
	// ResetDelay is how long the reset pin is held low.
	ResetDelay = 10 * time.Millisecond
	// StartupDelay is the settle time before the first status read.
	StartupDelay = 10 * time.Millisecond

	// PSIToHPA converts psi to hectopascals.
	PSIToHPA = 68.947572932

	// RawFailure is the raw value returned alongside an error by the data
	// read. Genuine readings never exceed 24 bits.
	RawFailure uint32 = 0xFFFFFFFF

	counts24 = 1 << 24
	psiToPa  = PSIToHPA * 100
)

var cmdMeasure = [3]byte{0xAA, 0x00, 0x00}

var (
	// ErrNotInitialized is returned by reads before Init opened the bus, or after Halt.
	ErrNotInitialized = errors.New("mprls: not initialized")
	// ErrNotReady is returned by Init when the status byte does not show a
	// powered, idle, error free device.
	ErrNotReady = errors.New("mprls: device not ready")
	// ErrTimeout is returned when a conversion does not complete within ReadTimeout.
	ErrTimeout = errors.New("mprls: conversion timed out")
	// ErrIntegrity is returned when the device reports a failed integrity test.
	ErrIntegrity = errors.New("mprls: integrity test failed")
	// ErrMathSaturation is returned when the device reports math saturation.
	ErrMathSaturation = errors.New("mprls: math saturation")
	// ErrDegenerateCurve is returned when both curve endpoints round to the
	// same raw count, leaving the transfer function undefined.
	ErrDegenerateCurve = errors.New("mprls: transfer curve endpoints are equal")
	// ErrClosed is returned by I/O on a released connection.
	ErrClosed = errors.New("mprls: connection closed")
)

// Opts holds the sensor configuration.
//
// Pressure range values are in the sensor's native unit, psi for the common
// parts. Output values are the transfer curve endpoints in percent of 2^24.
type Opts struct {
	// ResetPin, when set, is pulsed low during Init.
	ResetPin gpio.PinOut
	// EOCPin, when set, is polled for End-of-Conversion instead of the
	// status byte.
	EOCPin gpio.PinIn

	PressureMin uint16
	PressureMax uint16
	OutputMin   float64
	OutputMax   float64

	// UnitFactor multiplies the range unit into the unit returned by
	// ReadPressure.
	UnitFactor float64

	// Clock defaults to SystemClock.
	Clock Clock
}

// DefaultOpts is the configuration for the 0..25 psi, 10%..90% parts
// reporting hectopascals.
var DefaultOpts = Opts{
	PressureMin: 0,
	PressureMax: 25,
	OutputMin:   10,
	OutputMax:   90,
	UnitFactor:  PSIToHPA,
}

// Dev is a handle to an MPRLS sensor.
//
// It is not safe for concurrent use.
type Dev struct {
	opts       Opts
	clock      Clock
	outMin     uint32
	outMax     uint32
	c          Conn
	lastStatus Status
}

// New returns an uninitialized sensor configured with opts. No I/O is done.
func New(opts *Opts) *Dev {
	d := &Dev{opts: *opts, clock: opts.Clock}
	if d.clock == nil {
		d.clock = SystemClock{}
	}
	d.outMin = curveCounts(opts.OutputMin)
	d.outMax = curveCounts(opts.OutputMax)
	return d
}

// curveCounts converts a percentage of full scale into raw counts, rounding
// half up.
func curveCounts(pct float64) uint32 {
	switch {
	case math.IsNaN(pct) || pct <= 0:
		return 0
	case pct >= 100:
		return counts24
	}
	return uint32(float64(counts24)*(pct/100) + 0.5)
}

// Init opens the connection to the sensor at addr and checks that it is
// ready. Any previously held connection is released first, so Init can be
// called again to recover a sensor.
func (d *Dev) Init(t Transport, addr uint16) error {
	// The old handle is detached even when closing it fails.
	_ = d.release()
	c, err := t.Open(addr)
	if err != nil {
		return fmt.Errorf("mprls: open %#x: %w", addr, err)
	}
	d.c = c

	if p := d.opts.ResetPin; p != nil {
		for _, step := range []gpio.Level{gpio.High, gpio.Low} {
			if err := p.Out(step); err != nil {
				return fmt.Errorf("mprls: reset pin: %w", err)
			}
		}
		d.clock.Sleep(ResetDelay)
		if err := p.Out(gpio.High); err != nil {
			return fmt.Errorf("mprls: reset pin: %w", err)
		}
	}
	if p := d.opts.EOCPin; p != nil {
		if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return fmt.Errorf("mprls: eoc pin: %w", err)
		}
	}

	d.clock.Sleep(StartupDelay)

	s, err := d.ReadStatus()
	if err != nil {
		return err
	}
	if !s.Ready() {
		return fmt.Errorf("%w: status %s", ErrNotReady, s)
	}
	return nil
}

// ReadStatus reads the status byte. It does not update LastStatus.
func (d *Dev) ReadStatus() (Status, error) {
	if d.c == nil {
		return 0, ErrNotInitialized
	}
	var b [1]byte
	if err := d.c.Read(b[:]); err != nil {
		return 0, fmt.Errorf("mprls: read status: %w", err)
	}
	return Status(b[0]), nil
}

// LastStatus returns the status byte observed while waiting for the last
// conversion. It is only updated when no EOC pin is configured.
func (d *Dev) LastStatus() Status {
	return d.lastStatus
}

// CurveCounts returns the raw counts at the low and high transfer curve
// endpoints.
func (d *Dev) CurveCounts() (uint32, uint32) {
	return d.outMin, d.outMax
}

// ReadPressure runs one measurement and returns the pressure in the unit
// selected by Opts.UnitFactor.
//
// On failure the returned value is NaN and the error tells why. Device
// reported errors can be narrowed further with LastStatus.
func (d *Dev) ReadPressure() (float64, error) {
	p, err := d.readRange()
	if err != nil {
		return math.NaN(), err
	}
	return p * d.opts.UnitFactor, nil
}

// SensePressure runs one measurement and returns it as a physic.Pressure,
// treating the configured range as psi.
func (d *Dev) SensePressure() (physic.Pressure, error) {
	p, err := d.readRange()
	if err != nil {
		return 0, err
	}
	return physic.Pressure(math.Round(p * psiToPa * float64(physic.Pascal))), nil
}

// readRange runs one measurement and returns it in the range unit.
func (d *Dev) readRange() (float64, error) {
	raw, err := d.readData()
	if err != nil {
		return math.NaN(), err
	}
	return d.convert(raw)
}

// convert applies the transfer function to raw.
func (d *Dev) convert(raw uint32) (float64, error) {
	if d.outMax == d.outMin {
		return math.NaN(), ErrDegenerateCurve
	}
	span := int64(d.outMax) - int64(d.outMin)
	p := (float64(raw) - float64(d.outMin)) * (float64(d.opts.PressureMax) - float64(d.opts.PressureMin))
	p /= float64(span)
	p += float64(d.opts.PressureMin)
	return p, nil
}

// readData triggers a conversion, waits for it and returns the 24 bit raw
// count.
func (d *Dev) readData() (uint32, error) {
	if d.c == nil {
		return RawFailure, ErrNotInitialized
	}
	if err := d.c.Write(cmdMeasure[:]); err != nil {
		return RawFailure, fmt.Errorf("mprls: write measure command: %w", err)
	}

	start := d.clock.Now()
	if p := d.opts.EOCPin; p != nil {
		for p.Read() == gpio.Low {
			if d.clock.Now().Sub(start) > ReadTimeout {
				return RawFailure, ErrTimeout
			}
		}
	} else {
		for {
			s, err := d.ReadStatus()
			if err != nil {
				return RawFailure, err
			}
			d.lastStatus = s
			if !s.Busy() {
				break
			}
			if d.clock.Now().Sub(start) > ReadTimeout {
				return RawFailure, ErrTimeout
			}
		}
	}

	var b [4]byte
	if err := d.c.Read(b[:]); err != nil {
		return RawFailure, fmt.Errorf("mprls: read data: %w", err)
	}
	if err := Status(b[0]).Err(); err != nil {
		return RawFailure, err
	}
	return uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// Halt releases the bus connection. The sensor can be brought back with Init.
func (d *Dev) Halt() error {
	return d.release()
}

func (d *Dev) release() error {
	if d.c == nil {
		return nil
	}
	c := d.c
	d.c = nil
	if err := c.Close(); err != nil {
		return fmt.Errorf("mprls: release connection: %w", err)
	}
	return nil
}

func (d *Dev) String() string {
	if s, ok := d.c.(fmt.Stringer); ok {
		return "MPRLS{" + s.String() + "}"
	}
	return "MPRLS"
}
