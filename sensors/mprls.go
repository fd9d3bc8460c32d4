package sensors

import (
	"fmt"
	"log"
	"time"

	"github.com/Uranury/mprls-station/mprls"
	"github.com/cenkalti/backoff"
)

// MPRLSConfig describes how to reach and scale an MPRLS sensor.
type MPRLSConfig struct {
	Opts      mprls.Opts
	Transport mprls.Transport
	Address   uint16
	// Unit names the unit of the pressure field, see mprls.Units. It
	// overrides Opts.UnitFactor.
	Unit string

	// InitRetries is how many times Init is retried before giving up.
	InitRetries uint64
	// InitBackoff is the first delay between Init attempts.
	InitBackoff time.Duration
}

// MPRLS is a Sensor reading pressure from an MPRLS.
type MPRLS struct {
	dev  *mprls.Dev
	cfg  MPRLSConfig
	name string
}

// NewMPRLS builds the sensor and initializes it, retrying with exponential
// backoff.
func NewMPRLS(cfg MPRLSConfig) (*MPRLS, error) {
	if cfg.Unit == "" {
		cfg.Unit = "hPa"
	}
	f, err := mprls.UnitFactor(cfg.Unit)
	if err != nil {
		return nil, err
	}
	cfg.Opts.UnitFactor = f
	if cfg.Address == 0 {
		cfg.Address = mprls.DefaultAddress
	}
	m := &MPRLS{
		dev:  mprls.New(&cfg.Opts),
		cfg:  cfg,
		name: fmt.Sprintf("MPRLS@%#x", cfg.Address),
	}
	if err := m.Reinit(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MPRLS) Name() string {
	return m.name
}

// Dev returns the underlying driver.
func (m *MPRLS) Dev() *mprls.Dev {
	return m.dev
}

// Reinit reopens the bus connection, replacing the current one.
func (m *MPRLS) Reinit() error {
	b := backoff.NewExponentialBackOff()
	if m.cfg.InitBackoff > 0 {
		b.InitialInterval = m.cfg.InitBackoff
	}
	op := func() error {
		return m.dev.Init(m.cfg.Transport, m.cfg.Address)
	}
	notify := func(err error, next time.Duration) {
		log.Printf("%s: init failed, retrying in %s: %v", m.name, next, err)
	}
	if err := backoff.RetryNotify(op, backoff.WithMaxRetries(b, m.cfg.InitRetries), notify); err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	return nil
}

func (m *MPRLS) Read() (*SensorData, error) {
	p, err := m.dev.ReadPressure()
	if err != nil {
		return nil, fmt.Errorf("%s: %w (last status %s)", m.name, err, m.dev.LastStatus())
	}

	return &SensorData{
		SensorType: "mprls",
		Sensor:     m.name,
		Fields: map[string]float64{
			"pressure":     p,
			"pressure_psi": p / m.cfg.Opts.UnitFactor,
			"status":       float64(m.dev.LastStatus()),
		},
		Tags:      map[string]string{"unit": m.cfg.Unit},
		Timestamp: time.Now(),
	}, nil
}

// Close releases the bus connection.
func (m *MPRLS) Close() error {
	return m.dev.Halt()
}
