// Package metrics exposes the tuning loop's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sawpanic/tradetune/internal/regime"
)

// Registry holds every prometheus collector the loop records into.
// Collectors live on a dedicated registry so tests can build as many
// instances as they need.
type Registry struct {
	reg *prometheus.Registry

	// Pass outcomes by pass name and status.
	PassesTotal *prometheus.CounterVec

	// Resolutions by outcome (resolved_good / resolved_bad / resolved_neutral).
	ResolutionsTotal *prometheus.CounterVec

	// Proposals by verdict: "accepted" or the rejection reason.
	ProposalsTotal *prometheus.CounterVec

	// Malformed telemetry rows skipped while building windows.
	TelemetrySkipped prometheus.Counter

	// Current persisted snapshot version.
	SnapshotVersion prometheus.Gauge

	// Open calls tracked in the latest snapshot.
	OpenCalls prometheus.Gauge

	// Last classified regime (0=stable, 1=mixed, 2=stressed).
	ActiveRegime prometheus.Gauge
}

// NewRegistry builds and registers all collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		PassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradetune_passes_total",
				Help: "Total passes executed by pass name and status",
			},
			[]string{"pass", "status"},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradetune_resolutions_total",
				Help: "Total call resolutions by outcome",
			},
			[]string{"outcome"},
		),

		ProposalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradetune_proposals_total",
				Help: "Total knob proposals by verdict (accepted or rejection reason)",
			},
			[]string{"verdict"},
		),

		TelemetrySkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradetune_telemetry_skipped_total",
				Help: "Malformed telemetry rows skipped while building windows",
			},
		),

		SnapshotVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradetune_snapshot_version",
				Help: "Version of the most recently persisted state snapshot",
			},
		),

		OpenCalls: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradetune_open_calls",
				Help: "Open calls tracked in the latest snapshot",
			},
		),

		ActiveRegime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradetune_active_regime",
				Help: "Last classified regime (0=stable, 1=mixed, 2=stressed)",
			},
		),
	}

	r.reg.MustRegister(
		r.PassesTotal,
		r.ResolutionsTotal,
		r.ProposalsTotal,
		r.TelemetrySkipped,
		r.SnapshotVersion,
		r.OpenCalls,
		r.ActiveRegime,
	)
	return r
}

// RecordPass counts one pass execution.
func (r *Registry) RecordPass(pass string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.PassesTotal.WithLabelValues(pass, status).Inc()
}

// RecordResolution counts one resolved call.
func (r *Registry) RecordResolution(outcome string) {
	r.ResolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordProposal counts one proposal verdict.
func (r *Registry) RecordProposal(accepted bool, reason string) {
	verdict := "accepted"
	if !accepted {
		verdict = reason
	}
	r.ProposalsTotal.WithLabelValues(verdict).Inc()
}

// SetRegime records the latest classification.
func (r *Registry) SetRegime(reg regime.Regime) {
	r.ActiveRegime.Set(regimeToGaugeValue(reg))
}

// Handler serves the registry in the prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func regimeToGaugeValue(reg regime.Regime) float64 {
	switch reg {
	case regime.Stable:
		return 0
	case regime.Mixed:
		return 1
	case regime.Stressed:
		return 2
	default:
		return -1
	}
}
