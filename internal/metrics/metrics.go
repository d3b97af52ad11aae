// Package metrics defines the Prometheus collectors for mailbox sessions,
// ingestion and replies. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mailagent"

// Metrics groups every collector the agent exports.
type Metrics struct {
	ConnectAttempts     *prometheus.CounterVec
	SessionFailures     *prometheus.CounterVec
	SessionState        *prometheus.GaugeVec
	ConsecutiveFailures *prometheus.GaugeVec
	MailsReceived       *prometheus.CounterVec
	MemoryWrites        *prometheus.CounterVec
	QueueDepth          *prometheus.GaugeVec
	Notifications       *prometheus.CounterVec
	RepliesSent         *prometheus.CounterVec
	HealthResets        *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imap_connect_attempts_total",
			Help:      "IMAP connection attempts per user.",
		}, []string{"user"}),
		SessionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imap_failures_total",
			Help:      "IMAP session failures by error class.",
		}, []string{"user", "class"}),
		SessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "imap_session_state",
			Help:      "Current session state (0 disabled, 1 connecting, 2 idle, 3 fetching, 4 backoff).",
		}, []string{"user"}),
		ConsecutiveFailures: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "imap_consecutive_failures",
			Help:      "Consecutive failed fetch attempts.",
		}, []string{"user"}),
		MailsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mails_received_total",
			Help:      "Messages parsed and handed to the dispatcher.",
		}, []string{"user"}),
		MemoryWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Email memory persistence attempts by result.",
		}, []string{"result"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_queue_depth",
			Help:      "Email memories waiting to be flushed.",
		}, []string{"user"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications emitted by kind.",
		}, []string{"kind"}),
		RepliesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_sent_total",
			Help:      "Outgoing replies by result.",
		}, []string{"result"}),
		HealthResets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_resets_total",
			Help:      "Sessions reset by the health check or presence feed.",
		}, []string{"user"}),
	}
}

func (m *Metrics) ConnectAttempt(user string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(user).Inc()
}

func (m *Metrics) Failure(user, class string, consecutive int) {
	if m == nil {
		return
	}
	m.SessionFailures.WithLabelValues(user, class).Inc()
	m.ConsecutiveFailures.WithLabelValues(user).Set(float64(consecutive))
}

func (m *Metrics) FetchSucceeded(user string) {
	if m == nil {
		return
	}
	m.ConsecutiveFailures.WithLabelValues(user).Set(0)
}

func (m *Metrics) State(user string, state int) {
	if m == nil {
		return
	}
	m.SessionState.WithLabelValues(user).Set(float64(state))
}

func (m *Metrics) MailReceived(user string) {
	if m == nil {
		return
	}
	m.MailsReceived.WithLabelValues(user).Inc()
}

func (m *Metrics) MemoryWrite(ok bool) {
	if m == nil {
		return
	}
	m.MemoryWrites.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Queue(user string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(user).Set(float64(depth))
}

func (m *Metrics) Notified(kind string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind).Inc()
}

func (m *Metrics) ReplySent(ok bool) {
	if m == nil {
		return
	}
	m.RepliesSent.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) HealthReset(user string) {
	if m == nil {
		return
	}
	m.HealthResets.WithLabelValues(user).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
