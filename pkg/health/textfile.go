package health

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidroman0O/bmcmanager/errors"
)

// WriteTextfile writes sensor readings and the verdict severity to path in the
// node exporter textfile collector format.
func WriteTextfile(path, target string, sensors []SensorReading, v Verdict) error {
	reg := prometheus.NewRegistry()

	values := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bmc",
		Name:      "sensor_value",
		Help:      "Last reading of a BMC sensor.",
	}, []string{"target", "sensor", "type", "unit"})
	states := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bmc",
		Name:      "sensor_severity",
		Help:      "Sensor state: 0 nominal, 1 warning, 2 critical.",
	}, []string{"target", "sensor"})
	severity := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bmc",
		Name:      "health_severity",
		Help:      "Overall health check status: 0 OK, 1 WARNING, 2 CRITICAL, 3 UNKNOWN.",
	}, []string{"target"})
	reg.MustRegister(values, states, severity)

	for _, s := range sensors {
		states.WithLabelValues(target, s.Name).Set(float64(s.Severity()))
		value, err := strconv.ParseFloat(s.Value, 64)
		if err != nil {
			continue
		}
		values.WithLabelValues(target, s.Name, s.Type, s.Unit).Set(value)
	}
	severity.WithLabelValues(target).Set(float64(v.Severity))

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return errors.WithContext(errors.Wrap(err, errors.ErrUnknown, "failed to write metrics textfile"),
			map[string]interface{}{"path": path})
	}
	return nil
}
