// Package store persists readings to InfluxDB.
package store

import (
	"log"

	"github.com/Uranury/mprls-station/sensors"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement every reading is written to.
const Measurement = "sensor_data"

// Influx writes readings through the non-blocking write API.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// NewInflux connects to the server at url. Write errors are logged.
func NewInflux(url, token, org, bucket string) *Influx {
	client := influxdb2.NewClient(url, token)
	s := &Influx{
		client:   client,
		writeAPI: client.WriteAPI(org, bucket),
	}
	go logErrors(s.writeAPI.Errors())
	return s
}

func logErrors(errs <-chan error) {
	for err := range errs {
		log.Printf("influx write error: %v", err)
	}
}

// Publish queues data for writing.
func (s *Influx) Publish(data *sensors.SensorData) {
	s.writeAPI.WritePoint(Point(data))
}

// Close flushes pending points and closes the client.
func (s *Influx) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// Point converts a reading to an InfluxDB point tagged with the sensor type,
// the sensor name and the reading's own tags.
func Point(data *sensors.SensorData) *write.Point {
	p := influxdb2.NewPointWithMeasurement(Measurement).
		AddTag("sensor", data.SensorType).
		AddTag("name", data.Sensor).
		SetTime(data.Timestamp)

	for k, v := range data.Tags {
		p.AddTag(k, v)
	}
	// Add all fields dynamically
	for key, value := range data.Fields {
		p.AddField(key, value)
	}
	return p.SortTags().SortFields()
}
