package station_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Uranury/mprls-station/internal/metrics"
	"github.com/Uranury/mprls-station/internal/station"
	"github.com/Uranury/mprls-station/mprls"
	"github.com/Uranury/mprls-station/sensors"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSensor struct {
	mu      sync.Mutex
	name    string
	errs    []error
	reads   int
	reinits int
	closed  bool
}

func (f *fakeSensor) Name() string { return f.name }

func (f *fakeSensor) Read() (*sensors.SensorData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &sensors.SensorData{
		SensorType: "fake",
		Sensor:     f.name,
		Fields:     map[string]float64{"pressure": float64(f.reads)},
		Timestamp:  time.Now(),
	}, nil
}

func (f *fakeSensor) Close() error {
	f.closed = true
	return nil
}

type reinitSensor struct {
	fakeSensor
}

func (r *reinitSensor) Reinit() error {
	r.reinits++
	return nil
}

type sink struct {
	mu  sync.Mutex
	got []*sensors.SensorData
}

func (s *sink) Publish(d *sensors.SensorData) {
	s.mu.Lock()
	s.got = append(s.got, d)
	s.mu.Unlock()
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func cfg() station.Config {
	return station.Config{Interval: 5 * time.Millisecond, ReinitAfter: 2, MeasureRate: 1000, MeasureBurst: 10}
}

func TestReadAllFansOut(t *testing.T) {
	a := &fakeSensor{name: "a"}
	b := &fakeSensor{name: "b", errs: []error{mprls.ErrTimeout}}
	out := &sink{}
	m := metrics.New()
	st := station.New(cfg(), []sensors.Sensor{b, a}, []station.Sink{out}, m)

	st.ReadAll()
	if out.len() != 1 {
		t.Fatalf("expected 1 published reading, got %d", out.len())
	}
	states := st.States()
	if len(states) != 2 || states[0].Name != "a" || states[1].Name != "b" {
		t.Fatalf("unexpected states %+v", states)
	}
	if states[0].Reads != 1 || states[0].Latest == nil {
		t.Errorf("a: unexpected state %+v", states[0])
	}
	if states[1].Failures != 1 || states[1].LastErr == "" || states[1].Latest != nil {
		t.Errorf("b: unexpected state %+v", states[1])
	}
	if got := testutil.ToFloat64(m.Failures.WithLabelValues("b", "timeout")); got != 1 {
		t.Errorf("expected 1 timeout failure, got %v", got)
	}

	st.ReadAll()
	if out.len() != 3 {
		t.Errorf("expected 3 published readings, got %d", out.len())
	}
	if n := len(st.Latest()); n != 2 {
		t.Errorf("expected 2 latest readings, got %d", n)
	}
}

func TestReinitAfterConsecutiveFailures(t *testing.T) {
	r := &reinitSensor{fakeSensor{name: "p", errs: []error{mprls.ErrIntegrity, mprls.ErrTimeout, mprls.ErrTimeout}}}
	m := metrics.New()
	st := station.New(cfg(), []sensors.Sensor{r}, nil, m)

	st.ReadAll()
	if r.reinits != 0 {
		t.Fatalf("reinit after a single failure")
	}
	st.ReadAll()
	if r.reinits != 1 {
		t.Fatalf("expected a reinit after 2 failures, got %d", r.reinits)
	}
	if f := st.States()[0].Failures; f != 0 {
		t.Errorf("expected failure count reset, got %d", f)
	}
	st.ReadAll()
	if r.reinits != 1 {
		t.Errorf("expected no second reinit yet, got %d", r.reinits)
	}
	if got := testutil.ToFloat64(m.Reinits.WithLabelValues("p")); got != 1 {
		t.Errorf("expected 1 reinit metric, got %v", got)
	}
}

func TestMeasure(t *testing.T) {
	c := cfg()
	c.MeasureRate = 0.001
	c.MeasureBurst = 1
	a := &fakeSensor{name: "a"}
	st := station.New(c, []sensors.Sensor{a}, nil, nil)

	if _, err := st.Measure("nope"); !errors.Is(err, station.ErrUnknownSensor) {
		t.Errorf("expected ErrUnknownSensor, got %v", err)
	}
	data, err := st.Measure("a")
	if err != nil || data.Fields["pressure"] != 1 {
		t.Fatalf("unexpected measurement %+v, %v", data, err)
	}
	if _, err := st.Measure("a"); !errors.Is(err, station.ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a := &fakeSensor{name: "a"}
	out := &sink{}
	st := station.New(cfg(), []sensors.Sensor{a}, []station.Sink{out}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for out.len() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("station never published")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if !a.closed {
		t.Error("sensor not closed")
	}
}
