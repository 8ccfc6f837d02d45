package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/splax/apitrail/internal/domain"
)

// Publisher is the subset of *nats.Conn used for fan-out.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes notifications on <prefix>.alerts.<type> and
// <prefix>.incidents.<opened|resolved>.
type NATSNotifier struct {
	pub    Publisher
	prefix string
	log    *slog.Logger
}

// NewNATSNotifier wraps a publisher. An empty prefix defaults to "apitrail".
func NewNATSNotifier(pub Publisher, prefix string, log *slog.Logger) *NATSNotifier {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "apitrail"
	}
	if log == nil {
		log = slog.Default()
	}
	return &NATSNotifier{pub: pub, prefix: prefix, log: log.With("component", "notify_nats")}
}

// AlertSubject returns the subject used for alerts of the given type.
func (n *NATSNotifier) AlertSubject(t domain.AlertType) string {
	return fmt.Sprintf("%s.alerts.%s", n.prefix, strings.ToLower(string(t)))
}

// IncidentSubject returns the subject used for incident transitions.
func (n *NATSNotifier) IncidentSubject(kind Kind) string {
	transition := strings.TrimPrefix(string(kind), "incident_")
	return fmt.Sprintf("%s.incidents.%s", n.prefix, transition)
}

func (n *NATSNotifier) AlertRaised(_ context.Context, alert domain.Alert) {
	n.publish(n.AlertSubject(alert.AlertType), alertMessage(alert))
}

func (n *NATSNotifier) IncidentOpened(_ context.Context, incident domain.Incident) {
	n.publish(n.IncidentSubject(KindIncidentOpened), incidentMessage(KindIncidentOpened, incident))
}

func (n *NATSNotifier) IncidentResolved(_ context.Context, incident domain.Incident) {
	n.publish(n.IncidentSubject(KindIncidentResolved), incidentMessage(KindIncidentResolved, incident))
}

func (n *NATSNotifier) publish(subject string, msg Message) {
	payload, err := encode(msg)
	if err != nil {
		n.log.Warn("nats notification dropped", "subject", subject, "error", err)
		return
	}
	if err := n.pub.Publish(subject, payload); err != nil {
		n.log.Warn("nats publish failed", "subject", subject, "error", err)
	}
}

// ConnectNATS dials the NATS server with reconnect handling suited to a long-running collector.
func ConnectNATS(url, name string, log *slog.Logger) (*nats.Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(10 * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// DrainNATS flushes pending publishes and closes the connection.
func DrainNATS(nc *nats.Conn, log *slog.Logger) {
	if nc == nil {
		return
	}
	if err := nc.Drain(); err != nil && log != nil {
		log.Warn("failed to drain nats connection", "error", err)
	}
}
