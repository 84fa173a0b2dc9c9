package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(pollsCreatedTotal, pollVotesTotal) }

var (
	pollsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runner_polls_created_total",
			Help: "Polls created, labeled by kind.",
		},
		[]string{"kind"}, // approval, assistant_followup, manual
	)

	pollVotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runner_poll_votes_total",
			Help: "Poll votes received, labeled by validity.",
		},
		[]string{"valid"},
	)
)

func IncPollCreated(kind string) {
	pollsCreatedTotal.WithLabelValues(norm(kind)).Inc()
}

func IncPollVote(valid bool) {
	label := "false"
	if valid {
		label = "true"
	}
	pollVotesTotal.WithLabelValues(label).Inc()
}
