package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters. Registered on the default registry; the serving
// collaborator decides how to expose them.
var (
	DocumentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "materialsmonitor_documents_total",
		Help: "Documents processed per feed, labeled by terminal result.",
	}, []string{"feed", "result"})

	ClusterAssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "materialsmonitor_cluster_assignments_total",
		Help: "Cluster assignments per feed, labeled by dedup stage.",
	}, []string{"feed", "stage"})

	CommitRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "materialsmonitor_commit_retries_total",
		Help: "Commit attempts that failed and were retried.",
	}, []string{"feed"})

	UnmatchedMentionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "materialsmonitor_unmatched_mentions_total",
		Help: "Mentions that resolved to no canonical entity.",
	}, []string{"feed"})
)
