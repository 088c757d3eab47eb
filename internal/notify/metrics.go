package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_notifications_total",
		Help: "Notification sends grouped by channel and result.",
	}, []string{"channel", "result"})

	notificationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "booking_notification_seconds",
		Help:    "Latency of a single channel send.",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
)
