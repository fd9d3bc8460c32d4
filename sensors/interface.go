package sensors

import "time"

// SensorData is one reading of a sensor.
type SensorData struct {
	SensorType string             `json:"sensor_type"`
	Sensor     string             `json:"sensor"`
	Fields     map[string]float64 `json:"fields"`
	Tags       map[string]string  `json:"tags,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Sensor interface that all sensors must implement
type Sensor interface {
	Read() (*SensorData, error)
	Name() string
	Close() error
}

// Reiniter is implemented by sensors that can recover from repeated read
// failures by reinitializing their device.
type Reiniter interface {
	Reinit() error
}
