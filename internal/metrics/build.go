package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(buildInfo) }

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A constant metric labelled with the service name and version.",
	},
	[]string{"service", "version"},
)

// SetBuildInfo publishes the running service and version
func SetBuildInfo(service, version string) {
	buildInfo.WithLabelValues(norm(service), version).Set(1)
}
