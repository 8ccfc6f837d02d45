package notify

import (
	"context"
	"log/slog"

	"github.com/splax/apitrail/internal/domain"
)

// EventsTopic is the hub topic carrying every notification.
const EventsTopic = "events"

// Broadcaster delivers a payload to the subscribers of a topic.
type Broadcaster interface {
	Broadcast(topic string, payload []byte) bool
}

// HubNotifier pushes notifications to websocket and SSE subscribers.
type HubNotifier struct {
	hub Broadcaster
	log *slog.Logger
}

// NewHubNotifier wraps a hub.
func NewHubNotifier(hub Broadcaster, log *slog.Logger) *HubNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &HubNotifier{hub: hub, log: log.With("component", "notify_hub")}
}

func (n *HubNotifier) AlertRaised(_ context.Context, alert domain.Alert) {
	n.send(alertMessage(alert))
}

func (n *HubNotifier) IncidentOpened(_ context.Context, incident domain.Incident) {
	n.send(incidentMessage(KindIncidentOpened, incident))
}

func (n *HubNotifier) IncidentResolved(_ context.Context, incident domain.Incident) {
	n.send(incidentMessage(KindIncidentResolved, incident))
}

func (n *HubNotifier) send(msg Message) {
	payload, err := encode(msg)
	if err != nil {
		n.log.Warn("live notification dropped", "kind", msg.Kind, "error", err)
		return
	}
	if !n.hub.Broadcast(EventsTopic, payload) {
		n.log.Debug("hub unavailable or saturated, notification dropped", "kind", msg.Kind)
	}
}
