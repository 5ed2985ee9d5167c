package authgate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for authentication attempts
const (
	MethodPassword     = "password"
	MethodPasskey      = "passkey"
	MethodPasskeySetup = "passkey_registration"
	MethodOAuth        = "oauth2"

	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

var attemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "authgate",
		Name:      "attempts_total",
		Help:      "Authentication attempts by method and outcome",
	},
	[]string{"method", "outcome"},
)

// RecordAttempt counts one authentication attempt.
func RecordAttempt(method, outcome string) {
	attemptsTotal.WithLabelValues(method, outcome).Inc()
}
