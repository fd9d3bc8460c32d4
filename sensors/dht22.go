package sensors

import (
	"fmt"
	"time"

	"github.com/MichaelS11/go-dht"
)

// DHT22 is the ambient temperature and humidity sensor that sits next to the
// pressure sensor.
type DHT22 struct {
	Pin     string
	Retries int
	Dht     *dht.DHT
}

// NewDHT22 opens a DHT22 on the named GPIO pin. The periph host must already
// be initialized.
func NewDHT22(pin string, retries int) (*DHT22, error) {
	d := &DHT22{
		Pin:     pin,
		Retries: retries,
	}

	var err error
	d.Dht, err = dht.NewDHT(pin, dht.Celsius, "dht22")
	if err != nil {
		return nil, fmt.Errorf("dht22 on %s: %w", pin, err)
	}

	return d, nil
}

func (d *DHT22) Name() string {
	return "DHT22"
}

func (d *DHT22) Read() (*SensorData, error) {
	humidity, temperature, err := d.Dht.ReadRetry(d.Retries)
	if err != nil {
		return nil, err
	}

	return &SensorData{
		SensorType: "dht22",
		Sensor:     d.Name(),
		Fields: map[string]float64{
			"temperature": temperature,
			"humidity":    humidity,
		},
		Tags:      map[string]string{"pin": d.Pin},
		Timestamp: time.Now(),
	}, nil
}

// Close is a no-op, the pin belongs to the periph host.
func (d *DHT22) Close() error {
	return nil
}
