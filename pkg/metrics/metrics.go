package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stagepass", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stagepass", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stagepass", Name: "session_transitions_total", Help: "Session state transitions by target state."},
		[]string{"state"},
	)
	Redirects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stagepass", Name: "route_redirects_total", Help: "Route guard redirects by rule."},
		[]string{"rule"},
	)
	SideEffectErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stagepass", Name: "side_effect_errors_total", Help: "Contained side-effect failures by operation."},
		[]string{"op"},
	)
	ClaimsRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stagepass", Name: "claims_refreshes_total", Help: "Forced claims refreshes by trigger."},
		[]string{"trigger"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(SessionTransitions)
	reg.MustRegister(Redirects)
	reg.MustRegister(SideEffectErrors)
	reg.MustRegister(ClaimsRefreshes)
}
