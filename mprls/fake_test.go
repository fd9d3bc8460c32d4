package mprls

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// events is an ordered trace of everything the fakes saw.
type events []string

func (e *events) add(format string, args ...interface{}) {
	*e = append(*e, fmt.Sprintf(format, args...))
}

// fakeConn answers 1 byte reads from status, repeating the last entry once
// exhausted, and 4 byte reads from data.
type fakeConn struct {
	id     int
	ev     *events
	status []byte
	data   [4]byte
	writes [][]byte
	reads  int
	closed bool
	err    error
}

func (c *fakeConn) Write(b []byte) error {
	if c.closed {
		return ErrClosed
	}
	c.ev.add("write#%d:% x", c.id, b)
	c.writes = append(c.writes, append([]byte(nil), b...))
	return c.err
}

func (c *fakeConn) Read(b []byte) error {
	if c.closed {
		return ErrClosed
	}
	if c.err != nil {
		return c.err
	}
	c.reads++
	c.ev.add("read#%d:%d", c.id, len(b))
	switch len(b) {
	case 1:
		if len(c.status) == 0 {
			return errors.New("fake: no status scripted")
		}
		b[0] = c.status[0]
		if len(c.status) > 1 {
			c.status = c.status[1:]
		}
	case 4:
		copy(b, c.data[:])
	default:
		return fmt.Errorf("fake: unexpected read of %d bytes", len(b))
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.ev.add("close#%d", c.id)
	c.closed = true
	return nil
}

// fakeTransport hands out a new fakeConn per Open, built by mk.
type fakeTransport struct {
	ev    *events
	mk    func() *fakeConn
	conns []*fakeConn
	addrs []uint16
	err   error
}

func (t *fakeTransport) Open(addr uint16) (Conn, error) {
	t.addrs = append(t.addrs, addr)
	if t.err != nil {
		t.ev.add("open-failed")
		return nil, t.err
	}
	c := t.mk()
	c.id = len(t.conns) + 1
	c.ev = t.ev
	t.conns = append(t.conns, c)
	t.ev.add("open#%d:%#x", c.id, addr)
	return c, nil
}

// fakeClock advances by step on every Now and by d on every Sleep.
type fakeClock struct {
	ev   *events
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.ev.add("sleep:%s", d)
	c.now = c.now.Add(d)
}

// tracePin records pin operations and goes High on Read after highAfter
// reads, when highAfter > 0.
type tracePin struct {
	*gpiotest.Pin
	ev        *events
	highAfter int
	reads     int
}

func (p *tracePin) Out(l gpio.Level) error {
	p.ev.add("%s:%s", p.N, l)
	return p.Pin.Out(l)
}

func (p *tracePin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.ev.add("%s:in", p.N)
	return p.Pin.In(pull, edge)
}

func (p *tracePin) Read() gpio.Level {
	p.reads++
	if p.highAfter > 0 && p.reads >= p.highAfter {
		return gpio.High
	}
	return p.Pin.Read()
}

func newTracePin(ev *events, name string) *tracePin {
	return &tracePin{Pin: &gpiotest.Pin{N: name, L: gpio.Low}, ev: ev}
}

// rig wires a Dev to the fakes. Every opened connection answers initStatus
// to the first status read, then walks status.
type rig struct {
	ev    *events
	clock *fakeClock
	tr    *fakeTransport
	dev   *Dev
}

func newRig(opts Opts, initStatus byte, status []byte, data [4]byte) *rig {
	ev := &events{}
	r := &rig{
		ev:    ev,
		clock: &fakeClock{ev: ev, now: time.Unix(0, 0), step: time.Millisecond},
	}
	r.tr = &fakeTransport{ev: ev, mk: func() *fakeConn {
		return &fakeConn{status: append([]byte{initStatus}, status...), data: data}
	}}
	opts.Clock = r.clock
	r.dev = New(&opts)
	return r
}

func (r *rig) conn() *fakeConn {
	return r.tr.conns[len(r.tr.conns)-1]
}
