// Package station polls sensors and fans their readings out to sinks.
package station

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Uranury/mprls-station/internal/metrics"
	"github.com/Uranury/mprls-station/sensors"
	"golang.org/x/time/rate"
)

// ErrUnknownSensor is returned by Measure for a name no sensor has.
var ErrUnknownSensor = errors.New("station: unknown sensor")

// ErrRateLimited is returned by Measure when on demand measurements come in
// faster than the configured rate.
var ErrRateLimited = errors.New("station: measurement rate exceeded")

// Sink receives every successful reading.
type Sink interface {
	Publish(data *sensors.SensorData)
}

// Config tunes a Station.
type Config struct {
	Interval time.Duration

	// ReinitAfter consecutive failures trigger a Reinit on sensors that
	// support it, 0 disables it.
	ReinitAfter  int
	MeasureRate  rate.Limit
	MeasureBurst int
}

// State is the last known state of one sensor.
type State struct {
	Name     string              `json:"name"`
	Latest   *sensors.SensorData `json:"latest,omitempty"`
	LastErr  string              `json:"last_error,omitempty"`
	LastRead time.Time           `json:"last_read"`
	Failures int                 `json:"consecutive_failures"`
	Reads    uint64              `json:"reads"`
}

type slot struct {
	// mu serializes access to the sensor, drivers are single owner.
	mu     sync.Mutex
	sensor sensors.Sensor
	state  State
}

// Station owns a set of sensors.
type Station struct {
	cfg     Config
	slots   []*slot
	byName  map[string]*slot
	sinks   []Sink
	metrics *metrics.Metrics
	limiter *rate.Limiter

	stateMu sync.RWMutex
}

// New returns a station over ss. m may be nil.
func New(cfg Config, ss []sensors.Sensor, sinks []Sink, m *metrics.Metrics) *Station {
	if cfg.MeasureBurst < 1 {
		cfg.MeasureBurst = 1
	}
	st := &Station{
		cfg:     cfg,
		byName:  make(map[string]*slot, len(ss)),
		sinks:   sinks,
		metrics: m,
		limiter: rate.NewLimiter(cfg.MeasureRate, cfg.MeasureBurst),
	}
	for _, s := range ss {
		sl := &slot{sensor: s, state: State{Name: s.Name()}}
		st.slots = append(st.slots, sl)
		st.byName[s.Name()] = sl
	}
	return st
}

// Run reads all sensors every interval until ctx is done.
func (st *Station) Run(ctx context.Context) {
	ticker := time.NewTicker(st.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.ReadAll()
		}
	}
}

// ReadAll reads every sensor once.
func (st *Station) ReadAll() {
	for _, sl := range st.slots {
		data, err := st.read(sl)
		if err != nil {
			log.Printf("Error reading %s: %v", sl.sensor.Name(), err)
			continue
		}
		log.Printf("%s: %+v", sl.sensor.Name(), data.Fields)
	}
}

// Measure reads the named sensor now. It is rate limited.
func (st *Station) Measure(name string) (*sensors.SensorData, error) {
	sl, ok := st.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSensor, name)
	}
	if !st.limiter.Allow() {
		return nil, ErrRateLimited
	}
	return st.read(sl)
}

func (st *Station) read(sl *slot) (*sensors.SensorData, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	name := sl.sensor.Name()
	data, err := sl.sensor.Read()
	now := time.Now()

	st.stateMu.Lock()
	sl.state.LastRead = now
	if err != nil {
		sl.state.LastErr = err.Error()
		sl.state.Failures++
	} else {
		sl.state.Latest = data
		sl.state.LastErr = ""
		sl.state.Failures = 0
		sl.state.Reads++
	}
	failures := sl.state.Failures
	st.stateMu.Unlock()

	if err != nil {
		if st.metrics != nil {
			st.metrics.Fail(name, err)
		}
		st.maybeReinit(sl, failures)
		return nil, err
	}

	if st.metrics != nil {
		st.metrics.Observe(name, data.Fields)
	}
	for _, s := range st.sinks {
		s.Publish(data)
	}
	return data, nil
}

// maybeReinit must be called with sl.mu held.
func (st *Station) maybeReinit(sl *slot, failures int) {
	r, ok := sl.sensor.(sensors.Reiniter)
	if !ok || st.cfg.ReinitAfter <= 0 || failures < st.cfg.ReinitAfter {
		return
	}
	name := sl.sensor.Name()
	log.Printf("%s: %d consecutive failures, reinitializing", name, failures)
	if st.metrics != nil {
		st.metrics.Reinits.WithLabelValues(name).Inc()
	}
	if err := r.Reinit(); err != nil {
		log.Printf("%s: reinit failed: %v", name, err)
		return
	}
	st.stateMu.Lock()
	sl.state.Failures = 0
	st.stateMu.Unlock()
}

// States returns a snapshot of every sensor's state, sorted by name.
func (st *Station) States() []State {
	st.stateMu.RLock()
	defer st.stateMu.RUnlock()
	out := make([]State, 0, len(st.slots))
	for _, sl := range st.slots {
		out = append(out, sl.state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Latest returns the last successful reading of every sensor that has one.
func (st *Station) Latest() []*sensors.SensorData {
	var out []*sensors.SensorData
	for _, s := range st.States() {
		if s.Latest != nil {
			out = append(out, s.Latest)
		}
	}
	return out
}

// Close closes every sensor.
func (st *Station) Close() error {
	var errs []error
	for _, sl := range st.slots {
		sl.mu.Lock()
		if err := sl.sensor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sl.sensor.Name(), err))
		}
		sl.mu.Unlock()
	}
	return errors.Join(errs...)
}
