// Package metrics exposes CTCP server-internal state as Prometheus
// collectors, following the teacher's internal/protocol/nfs/v4/state
// package: a constructor per concern that builds its collectors, registers
// them against a caller-supplied prometheus.Registerer with the
// already-registered-is-fine idiom, and nil-safe recording methods so a
// component built without a registerer (e.g. in a unit test) can still call
// them unconditionally.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// registerOrReuse registers c with reg, returning the already-registered
// collector instead of panicking when the same collector was registered
// before — mirrors the teacher's metrics_util.go helper, which exists so a
// server restart that reconstructs its metrics structs doesn't fail to
// register against a registerer that outlives the restart (e.g. the default
// global registry in tests).
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}
