package sensors_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Uranury/mprls-station/mprls"
	"github.com/Uranury/mprls-station/sensors"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

var _ sensors.Sensor = (*sensors.MPRLS)(nil)
var _ sensors.Reiniter = (*sensors.MPRLS)(nil)
var _ sensors.Sensor = (*sensors.DHT22)(nil)

func initOps(addr uint16, status byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: addr, R: []byte{0x40}},
		{Addr: addr, R: []byte{status}},
	}
}

func measureOps(addr uint16, data ...byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: addr, W: []byte{0xAA, 0x00, 0x00}},
		{Addr: addr, R: []byte{0x40}},
		{Addr: addr, R: data},
	}
}

func TestMPRLSRead(t *testing.T) {
	ops := append(initOps(0x18, 0x40), measureOps(0x18, 0x40, 0x80, 0x00, 0x00)...)
	bus := &i2ctest.Playback{Ops: ops}
	s, err := sensors.NewMPRLS(sensors.MPRLSConfig{
		Opts:      mprls.DefaultOpts,
		Transport: &mprls.I2C{Bus: bus},
		Unit:      "kPa",
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != "MPRLS@0x18" {
		t.Errorf("unexpected name %q", s.Name())
	}
	data, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if data.SensorType != "mprls" || data.Tags["unit"] != "kPa" {
		t.Errorf("unexpected reading %+v", data)
	}
	if want := 12.5 * mprls.PSIToHPA / 10; math.Abs(data.Fields["pressure"]-want) > 1e-9 {
		t.Errorf("expected %v kPa, got %v", want, data.Fields["pressure"])
	}
	if math.Abs(data.Fields["pressure_psi"]-12.5) > 1e-9 {
		t.Errorf("expected 12.5 psi, got %v", data.Fields["pressure_psi"])
	}
	if data.Fields["status"] != 0x40 {
		t.Errorf("expected status 0x40, got %v", data.Fields["status"])
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Error(err)
	}
}

func TestMPRLSInitRetries(t *testing.T) {
	ops := append(initOps(0x18, 0x60), initOps(0x18, 0x40)...)
	bus := &i2ctest.Playback{Ops: ops}
	s, err := sensors.NewMPRLS(sensors.MPRLSConfig{
		Opts:        mprls.DefaultOpts,
		Transport:   &mprls.I2C{Bus: bus},
		InitRetries: 2,
		InitBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := bus.Close(); err != nil {
		t.Error(err)
	}
}

func TestMPRLSInitGivesUp(t *testing.T) {
	ops := append(initOps(0x18, 0x00), initOps(0x18, 0x00)...)
	bus := &i2ctest.Playback{Ops: ops}
	_, err := sensors.NewMPRLS(sensors.MPRLSConfig{
		Opts:        mprls.DefaultOpts,
		Transport:   &mprls.I2C{Bus: bus},
		InitRetries: 1,
		InitBackoff: time.Millisecond,
	})
	if !errors.Is(err, mprls.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestMPRLSReadFailure(t *testing.T) {
	ops := append(initOps(0x18, 0x40), measureOps(0x18, 0x44, 0x12, 0x34, 0x56)...)
	bus := &i2ctest.Playback{Ops: ops}
	s, err := sensors.NewMPRLS(sensors.MPRLSConfig{
		Opts:      mprls.DefaultOpts,
		Transport: &mprls.I2C{Bus: bus},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	data, err := s.Read()
	if data != nil || !errors.Is(err, mprls.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %+v, %v", data, err)
	}
}

func TestMPRLSUnknownUnit(t *testing.T) {
	_, err := sensors.NewMPRLS(sensors.MPRLSConfig{
		Opts: mprls.DefaultOpts,
		Unit: "cubits",
	})
	if err == nil {
		t.Error("expected an error for an unknown unit")
	}
}
