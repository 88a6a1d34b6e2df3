// Package metrics holds the Prometheus counters of the pipeline.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
	ResultLocked  = "locked"
	ResultAlive   = "alive"
	ResultDead    = "dead"
	ResultError   = "error"
)

var (
	// RelocationsTotal counts blob relocations by result.
	RelocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaref_relocations_total",
		Help: "Counter for blob relocations out of temporary storage.",
	}, []string{"result"})

	// ReorganizeTotal counts reorganize runs by result.
	ReorganizeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaref_reorganize_total",
		Help: "Counter for artifact reorganize runs.",
	}, []string{"result"})

	// OrphansDeletedTotal counts removed orphans by kind (link, media, artifact_url).
	OrphansDeletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaref_orphans_deleted_total",
		Help: "Counter for orphaned references removed by the orphan scanner.",
	}, []string{"kind"})

	// MigratedURLsTotal counts legacy URLs processed by the migrator.
	MigratedURLsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaref_migrated_urls_total",
		Help: "Counter for legacy delivery URLs migrated to the object store.",
	}, []string{"result"})

	// DerivativesBackfilledTotal counts stored derivative triples.
	DerivativesBackfilledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mediaref_derivatives_backfilled_total",
		Help: "Counter for derivative URL triples stored by the backfill.",
	})

	// ProbeTotal counts liveness probes by result.
	ProbeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaref_probe_total",
		Help: "Counter for blob liveness probes.",
	}, []string{"result"})
)

// Register adds all collectors to reg. Collectors already registered with
// reg are ignored so executables can call it more than once.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		RelocationsTotal,
		ReorganizeTotal,
		OrphansDeletedTotal,
		MigratedURLsTotal,
		DerivativesBackfilledTotal,
		ProbeTotal,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
