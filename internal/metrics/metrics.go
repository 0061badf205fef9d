package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all collectors for the connectivity layer. Exposed so a
// host application can mount it on its own /metrics endpoint.
var Registry = prometheus.NewRegistry()

var (
	tokenRefreshTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "meritdesk_token_refresh_total",
		Help: "Token refresh attempts by result (success, failure).",
	}, []string{"result"})

	socketReconnectsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "meritdesk_socket_reconnects_total",
		Help: "Reconnect attempts by channel.",
	}, []string{"channel"})

	socketFramesTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "meritdesk_socket_frames_total",
		Help: "Inbound frames by channel and frame type.",
	}, []string{"channel", "type"})

	outboundDroppedTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "meritdesk_outbound_dropped_total",
		Help: "Outbound messages dropped from a full send queue.",
	})

	unreadGauge = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "meritdesk_unread_count",
		Help: "Current unread count by channel.",
	}, []string{"channel"})
)

func TokenRefresh(result string) {
	tokenRefreshTotal.WithLabelValues(result).Inc()
}

func SocketReconnect(channel string) {
	socketReconnectsTotal.WithLabelValues(channel).Inc()
}

func SocketFrame(channel, frameType string) {
	socketFramesTotal.WithLabelValues(channel, frameType).Inc()
}

func OutboundDropped() {
	outboundDroppedTotal.Inc()
}

func SetUnread(channel string, n int) {
	unreadGauge.WithLabelValues(channel).Set(float64(n))
}
