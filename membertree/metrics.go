package membertree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var placementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spilltree_placements_total",
	Help: "Total member placements by outcome",
}, []string{"outcome"})

var spillsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spilltree_spills_total",
	Help: "Number of placements that landed below the sponsor's direct slots",
})

var placementConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spilltree_placement_conflicts_total",
	Help: "Number of placement transactions restarted after a concurrent store commit",
})

var placementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "spilltree_placement_duration_seconds",
	Help:    "Duration of placement transactions, including retries",
	Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
})

var treeInvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spilltree_tree_invariant_violations_total",
	Help: "Number of operations aborted because stored structure was inconsistent",
})

var downlineCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spilltree_downline_cache_hits_total",
	Help: "Number of downline views served from cache",
})

var downlineCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spilltree_downline_cache_misses_total",
	Help: "Number of downline views built from a store snapshot",
})

var treeMembers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "spilltree_tree_members",
	Help: "Number of members in the tree as of the last placement",
})
