package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends every metric in the default registry to the Pushgateway at url,
// replacing the previous push for job. instance distinguishes concurrent
// pushers of the same job (a Lambda log stream, a hostname).
func Push(url, job, instance string, timeout time.Duration) error {
	return PushFrom(prometheus.DefaultGatherer, url, job, instance, timeout)
}

// PushFrom is Push with an explicit gatherer.
func PushFrom(g prometheus.Gatherer, url, job, instance string, timeout time.Duration) error {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	pusher := push.New(url, job).
		Gatherer(g).
		Client(&http.Client{Timeout: timeout})
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}

	if err := pusher.Push(); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
