package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filegate_notifications_dispatched_total",
			Help: "Notification deliveries by channel and result.",
		},
		[]string{"channel", "result"},
	)
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filegate_notifications_dropped_total",
		Help: "Notification jobs dropped because the queue was full or closed.",
	})
)

func observe(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	dispatchedTotal.WithLabelValues(channel, result).Inc()
}
