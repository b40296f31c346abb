package coordinator

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Set of outcomes a round can end with.
const (
	OutcomeCommitted   = "committed"
	OutcomeInvalid     = "invalid"
	OutcomeRejected    = "rejected"
	OutcomeTimeout     = "timeout"
	OutcomeConflict    = "conflict"
	OutcomeNewHead     = "new_head"
	OutcomeUncertified = "uncertified"
)

// Metrics holds the collectors the coordinator updates as rounds progress.
type Metrics struct {
	Rounds     *prometheus.CounterVec
	Votes      *prometheus.CounterVec
	Height     prometheus.Gauge
	Candidates prometheus.Gauge
	Mempool    prometheus.Gauge
}

// NewMetrics constructs the coordinator collectors and registers them with
// the registerer when one is provided. Collectors that are already
// registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := Metrics{
		Rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consensus",
			Subsystem: "coordinator",
			Name:      "rounds_total",
			Help:      "Number of rounds completed, partitioned by outcome.",
		}, []string{"outcome"}),
		Votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consensus",
			Subsystem: "coordinator",
			Name:      "votes_total",
			Help:      "Number of votes processed, partitioned by decision and result.",
		}, []string{"decision", "result"}),
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consensus",
			Subsystem: "chain",
			Name:      "height",
			Help:      "Number of the committed head block.",
		}),
		Candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consensus",
			Subsystem: "coordinator",
			Name:      "candidates",
			Help:      "Number of validated candidate blocks waiting for a decision.",
		}),
		Mempool: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consensus",
			Subsystem: "mempool",
			Name:      "transactions",
			Help:      "Number of transactions waiting to be proposed.",
		}),
	}

	if reg == nil {
		return &m, nil
	}

	var err error
	if m.Rounds, err = register(reg, m.Rounds); err != nil {
		return nil, err
	}
	if m.Votes, err = register(reg, m.Votes); err != nil {
		return nil, err
	}
	if m.Height, err = register(reg, m.Height); err != nil {
		return nil, err
	}
	if m.Candidates, err = register(reg, m.Candidates); err != nil {
		return nil, err
	}
	if m.Mempool, err = register(reg, m.Mempool); err != nil {
		return nil, err
	}

	return &m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}

	return c, nil
}
