package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Uranury/mprls-station/internal/config"
	"github.com/Uranury/mprls-station/internal/hub"
	"github.com/Uranury/mprls-station/internal/metrics"
	"github.com/Uranury/mprls-station/internal/server"
	"github.com/Uranury/mprls-station/internal/station"
	"github.com/Uranury/mprls-station/internal/store"
	"github.com/Uranury/mprls-station/mprls"
	"github.com/Uranury/mprls-station/sensors"
	"golang.org/x/time/rate"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

func main() {
	configPath := flag.String("config", os.Getenv("MPRLS_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	if _, err := host.Init(); err != nil {
		log.Fatalf("periph host init: %v", err)
	}
	bus, err := i2creg.Open(cfg.Sensor.Bus)
	if err != nil {
		log.Fatalf("failed to open I²C: %v", err)
	}
	defer bus.Close()

	// Initialize all sensors
	pressure, err := newPressureSensor(cfg.Sensor, &mprls.I2C{Bus: bus})
	if err != nil {
		log.Fatal(err)
	}
	all := []sensors.Sensor{pressure}
	if cfg.DHT.Pin != "" {
		d, err := sensors.NewDHT22(cfg.DHT.Pin, cfg.DHT.Retries)
		if err != nil {
			log.Printf("DHT22 disabled: %v", err)
		} else {
			all = append(all, d)
		}
	}

	h := hub.New()
	sinks := []station.Sink{h}
	if cfg.Influx.URL != "" && cfg.Influx.Bucket != "" {
		influx := store.NewInflux(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		defer influx.Close()
		sinks = append(sinks, influx)
	} else {
		log.Println("InfluxDB bucket not set, readings are not persisted")
	}

	m := metrics.New()
	st := station.New(station.Config{
		Interval:     cfg.Interval,
		ReinitAfter:  cfg.Sensor.ReinitAfter,
		MeasureRate:  rate.Limit(cfg.MeasureRate),
		MeasureBurst: cfg.MeasureBurst,
	}, all, sinks, m)
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("closing sensors: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start sensor reading goroutine
	go st.Run(ctx)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.New(st, h, m, cfg.StaticDir)}
	go func() {
		<-ctx.Done()
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}()

	log.Printf("Server starting on %s", cfg.HTTPAddr)
	log.Println("Monitoring sensors:", len(all))
	for _, sensor := range all {
		log.Printf("  - %s", sensor.Name())
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("HTTP server: %v", err)
	}
}

// newPressureSensor resolves the configured pins and brings up the MPRLS.
func newPressureSensor(c config.Sensor, t mprls.Transport) (*sensors.MPRLS, error) {
	opts := c.Opts()
	if c.ResetPin != "" {
		p, err := pin(c.ResetPin)
		if err != nil {
			return nil, err
		}
		opts.ResetPin = p
	}
	if c.EOCPin != "" {
		p, err := pin(c.EOCPin)
		if err != nil {
			return nil, err
		}
		opts.EOCPin = p
	}
	if lo, hi := mprls.New(&opts).CurveCounts(); lo == hi {
		log.Printf("sensor curve %v%%..%v%% is degenerate, every reading will fail", c.CurveMin, c.CurveMax)
	}
	return sensors.NewMPRLS(sensors.MPRLSConfig{
		Opts:        opts,
		Transport:   t,
		Address:     c.Address,
		Unit:        c.Unit,
		InitRetries: c.InitRetries,
		InitBackoff: c.InitBackoff,
	})
}

func pin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.New("no GPIO pin named " + name)
	}
	return p, nil
}
