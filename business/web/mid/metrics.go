package mid

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ardanlabs/consensus/foundation/web"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the request collectors shared by every mux of the service.
type Metrics struct {
	Requests *prometheus.CounterVec
	Errors   prometheus.Counter
	Panics   prometheus.Counter
}

// NewMetrics constructs the request collectors and registers them.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consensus",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Number of requests handled, partitioned by status code or error.",
		}, []string{"code"}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus",
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Number of requests that returned an error.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus",
			Subsystem: "http",
			Name:      "panics_total",
			Help:      "Number of requests that panicked.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.Requests, m.Errors, m.Panics} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return &m, nil
}

// Metrics updates program counters.
func (m *Metrics) Metrics() web.Middleware {

	// This is the actual middleware function to be executed.
	mw := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			// Call the next handler.
			err := handler(ctx, w, r)

			// Increment the request and errors counters.
			if err != nil {
				m.Errors.Inc()
			}

			// The Errors middleware sets the status once the error is
			// handled further up the chain.
			code := "error"
			if v, verr := web.GetValues(ctx); err == nil && verr == nil && v.StatusCode != 0 {
				code = strconv.Itoa(v.StatusCode)
			}
			m.Requests.WithLabelValues(code).Inc()

			// Return the error so it can be handled further up the chain.
			return err
		}

		return h
	}

	return mw
}
