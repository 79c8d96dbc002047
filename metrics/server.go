package metrics

import (
	"evsim/internal/config"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func Listen(conf *config.Config) error {
	if !conf.Metrics.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	address := fmt.Sprintf("%s:%s", conf.Metrics.BindIP, conf.Metrics.Port)
	logrus.WithField("address", address).Info("starting metrics server")
	return http.ListenAndServe(address, mux)
}
