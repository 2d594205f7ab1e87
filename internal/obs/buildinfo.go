package obs

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hemicycle_build_info",
		Help: "Always 1; labels carry the running build.",
	}, []string{"version", "commit", "goversion"})

	startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hemicycle_start_time_seconds",
		Help: "Unix time the server process started serving.",
	})
)

// InitBuildInfo publishes the build labels and the start time. Calling it
// again replaces the labels.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo, startTime)
		startTime.Set(float64(time.Now().Unix()))
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}
