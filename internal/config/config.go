// Package config loads the station configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then the
// environment (a .env file in the working directory is loaded first). Nested
// keys are addressed in the environment as MPRLS_<SECTION>__<KEY>, for
// example MPRLS_SENSOR__EOC_PIN=GPIO17. The INFLUX_URL, INFLUX_TOKEN,
// INFLUX_ORG and INFLUX_BUCKET variables are honoured as well.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Uranury/mprls-station/mprls"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// Sensor configures the MPRLS.
type Sensor struct {
	// Bus is the periph I²C bus name, empty for the first one.
	Bus      string  `koanf:"bus"`
	Address  uint16  `koanf:"address"`
	ResetPin string  `koanf:"reset_pin"`
	EOCPin   string  `koanf:"eoc_pin"`
	RangeMin uint16  `koanf:"range_min"`
	RangeMax uint16  `koanf:"range_max"`
	CurveMin float64 `koanf:"curve_min"`
	CurveMax float64 `koanf:"curve_max"`
	Unit     string  `koanf:"unit"`

	InitRetries uint64        `koanf:"init_retries"`
	InitBackoff time.Duration `koanf:"init_backoff"`
	// ReinitAfter is the number of consecutive failed reads after which
	// the sensor is reinitialized, 0 disables it.
	ReinitAfter int `koanf:"reinit_after"`
}

// DHT configures the optional ambient sensor.
type DHT struct {
	// Pin is the GPIO name, empty disables the sensor.
	Pin     string `koanf:"pin"`
	Retries int    `koanf:"retries"`
}

// Influx configures the InfluxDB sink. An empty URL disables it.
type Influx struct {
	URL    string `koanf:"url"`
	Token  string `koanf:"token"`
	Org    string `koanf:"org"`
	Bucket string `koanf:"bucket"`
}

// Config is the whole station configuration.
type Config struct {
	HTTPAddr  string        `koanf:"http_addr"`
	StaticDir string        `koanf:"static_dir"`
	Interval  time.Duration `koanf:"interval"`
	// MeasureRate caps on demand measurements per second.
	MeasureRate  float64 `koanf:"measure_rate"`
	MeasureBurst int     `koanf:"measure_burst"`

	Sensor Sensor `koanf:"sensor"`
	DHT    DHT    `koanf:"dht"`
	Influx Influx `koanf:"influx"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:     ":8080",
		StaticDir:    "./static",
		Interval:     2 * time.Second,
		MeasureRate:  5,
		MeasureBurst: 1,
		Sensor: Sensor{
			Address:     mprls.DefaultAddress,
			RangeMin:    mprls.DefaultOpts.PressureMin,
			RangeMax:    mprls.DefaultOpts.PressureMax,
			CurveMin:    mprls.DefaultOpts.OutputMin,
			CurveMax:    mprls.DefaultOpts.OutputMax,
			Unit:        "hPa",
			InitRetries: 5,
			InitBackoff: 100 * time.Millisecond,
			ReinitAfter: 5,
		},
		DHT: DHT{
			Retries: 11,
		},
		Influx: Influx{
			URL: "http://localhost:8086",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (which
// may be empty or missing) and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: %s: %w", path, err)
			}
			log.Printf("config file %s not found, using defaults", path)
		}
	}
	if err := k.Load(env.Provider("INFLUX_", ".", func(s string) string {
		return "influx." + strings.ToLower(strings.TrimPrefix(s, "INFLUX_"))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}
	if err := k.Load(env.Provider("MPRLS_", ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, c.Validate()
}

// envKey maps MPRLS_SENSOR__EOC_PIN to sensor.eoc_pin.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "MPRLS_"))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("config: interval must be positive, got %s", c.Interval)
	case c.MeasureRate <= 0:
		return fmt.Errorf("config: measure_rate must be positive, got %v", c.MeasureRate)
	case c.MeasureBurst < 1:
		return fmt.Errorf("config: measure_burst must be at least 1, got %d", c.MeasureBurst)
	case c.Sensor.Address > 0x7F:
		return fmt.Errorf("config: sensor.address %#x is not a 7 bit I²C address", c.Sensor.Address)
	}
	for name, v := range map[string]float64{"curve_min": c.Sensor.CurveMin, "curve_max": c.Sensor.CurveMax} {
		if v < 0 || v > 100 {
			return fmt.Errorf("config: sensor.%s must be within 0..100%%, got %v", name, v)
		}
	}
	if _, err := mprls.UnitFactor(c.Sensor.Unit); err != nil {
		return fmt.Errorf("config: sensor.unit: %w", err)
	}
	return nil
}

// Opts returns the driver options, without pins and unit factor which need
// the host.
func (s *Sensor) Opts() mprls.Opts {
	return mprls.Opts{
		PressureMin: s.RangeMin,
		PressureMax: s.RangeMax,
		OutputMin:   s.CurveMin,
		OutputMax:   s.CurveMax,
	}
}
