package workflow

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"filegate/api/internal/lifecycle"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filegate_transitions_total",
			Help: "Applied file status transitions.",
		},
		[]string{"action", "from", "to"},
	)
	transitionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filegate_transition_failures_total",
			Help: "Refused or failed file status transitions by reason.",
		},
		[]string{"reason"},
	)
)

func failureReason(err error) string {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, lifecycle.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, lifecycle.ErrMissingComment):
		return "missing_comment"
	case errors.Is(err, lifecycle.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
