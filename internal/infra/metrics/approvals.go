package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(approvalsRequestedTotal, approvalDecisionsTotal) }

var (
	approvalsRequestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runner_approvals_requested_total",
			Help: "Jobs parked for human approval, labeled by risk level.",
		},
		[]string{"risk"},
	)

	approvalDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runner_approval_decisions_total",
			Help: "Human approval decisions, labeled by outcome.",
		},
		[]string{"decision"}, // approve, reject, revise
	)
)

func IncApprovalRequested(risk string) {
	approvalsRequestedTotal.WithLabelValues(norm(risk)).Inc()
}

func IncApprovalDecision(decision string) {
	approvalDecisionsTotal.WithLabelValues(norm(decision)).Inc()
}
