package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entityEdits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swiftdb_entity_edits_total",
		Help: "Archived edits applied to live entities, by entity kind.",
	}, []string{"kind"})

	snapshotLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swiftdb_snapshot_lookups_total",
		Help: "Closest-date archive snapshot requests, by entity kind.",
	}, []string{"kind"})

	accessDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftdb_access_denied_total",
		Help: "Requests rejected by row-level access checks.",
	})
)
