package mprls

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// Transport opens connections to a device at a bus address.
type Transport interface {
	Open(addr uint16) (Conn, error)
}

// Conn is an open connection to one device.
//
// Read fills b entirely from the device. Close releases the connection; it
// must be safe to call more than once.
type Conn interface {
	Write(b []byte) error
	Read(b []byte) error
	Close() error
}

// I2C is a Transport over a periph I²C bus.
//
// The bus itself is not owned: closing a Conn does not close Bus.
type I2C struct {
	Bus i2c.Bus
}

// Open probes addr with a single byte read and returns a connection to it.
func (t *I2C) Open(addr uint16) (Conn, error) {
	if t.Bus == nil {
		return nil, fmt.Errorf("mprls: nil I²C bus")
	}
	d := &i2c.Dev{Bus: t.Bus, Addr: addr}
	var probe [1]byte
	if err := d.Tx(nil, probe[:]); err != nil {
		return nil, fmt.Errorf("mprls: no device at %#x on %s: %w", addr, t.Bus, err)
	}
	return &i2cConn{d: d}, nil
}

type i2cConn struct {
	mu     sync.Mutex
	d      *i2c.Dev
	closed bool
}

func (c *i2cConn) Write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.d.Tx(b, nil)
}

func (c *i2cConn) Read(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.d.Tx(nil, b)
}

func (c *i2cConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *i2cConn) String() string {
	return c.d.String()
}

// Clock is the time source used for settle delays and conversion timeouts.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the Clock backed by package time. Its readings carry the
// monotonic clock, so timeouts are immune to wall clock changes.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep calls time.Sleep.
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
