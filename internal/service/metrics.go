package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tokensRegistered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pushscheduler",
		Name:      "tokens_registered_total",
		Help:      "Push tokens registered or refreshed, by platform.",
	}, []string{"platform"})

	notificationsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pushscheduler",
		Name:      "notifications_scheduled_total",
		Help:      "Delayed notifications accepted for dispatch.",
	})

	notificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pushscheduler",
		Name:      "notifications_dispatched_total",
		Help:      "Dispatch attempts by result (sent, failed, invalid_token).",
	}, []string{"result"})
)
