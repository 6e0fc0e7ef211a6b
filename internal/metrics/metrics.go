package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "registration"

var (
	stepsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "state_machine",
		Name:      "steps_total",
		Help:      "Registration operations by step and outcome",
	}, []string{"step", "outcome"})

	backgroundMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "background",
		Name:      "tasks_total",
		Help:      "Fire-and-forget tasks by name and outcome",
	}, []string{"task", "outcome"})

	rewardsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "onboarding",
		Name:      "rewards_total",
		Help:      "Onboarding reward guards claimed by trigger",
	}, []string{"trigger"})

	registeredMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "accounts_registered_total",
		Help:      "Accounts written to the chain",
	})
)

// Step records the outcome ("ok" or an error code) of one state machine operation.
func Step(step, outcome string) { stepsMetric.WithLabelValues(step, outcome).Inc() }

// Background records the outcome of a detached task.
func Background(task, outcome string) { backgroundMetric.WithLabelValues(task, outcome).Inc() }

// Reward records a claimed onboarding guard.
func Reward(trigger string) { rewardsMetric.WithLabelValues(trigger).Inc() }

// Registered increments the on-chain registrations counter.
func Registered() { registeredMetric.Inc() }
