package metrics

import "github.com/prometheus/client_golang/prometheus"

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Always 1. Labels carry the running version and commit.",
	},
	[]string{"version", "commit"},
)

func init() { register(buildInfo) }

// SetBuildInfo publishes the binary's version. Empty values read "unknown".
func SetBuildInfo(version, commit string) {
	if version == "" {
		version = "unknown"
	}
	if commit == "" {
		commit = "unknown"
	}
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}
