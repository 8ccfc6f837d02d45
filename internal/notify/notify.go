// Package notify fans alert and incident transitions out to live subscribers.
package notify

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/splax/apitrail/internal/domain"
	"github.com/splax/apitrail/internal/view"
)

// Kind labels a notification.
type Kind string

const (
	KindAlert            Kind = "alert"
	KindIncidentOpened   Kind = "incident_opened"
	KindIncidentResolved Kind = "incident_resolved"
)

// Message is the envelope delivered to subscribers.
type Message struct {
	Kind Kind `json:"kind"`
	Data any  `json:"data"`
}

// Notifier receives pipeline transitions. Implementations must not block for long and must
// swallow their own delivery errors.
type Notifier interface {
	AlertRaised(ctx context.Context, alert domain.Alert)
	IncidentOpened(ctx context.Context, incident domain.Incident)
	IncidentResolved(ctx context.Context, incident domain.Incident)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) AlertRaised(context.Context, domain.Alert) {}
func (Nop) IncidentOpened(context.Context, domain.Incident) {}
func (Nop) IncidentResolved(context.Context, domain.Incident) {}

// Multi forwards each notification to every wrapped notifier in order.
type Multi []Notifier

func (m Multi) AlertRaised(ctx context.Context, alert domain.Alert) {
	for _, n := range m {
		n.AlertRaised(ctx, alert)
	}
}

func (m Multi) IncidentOpened(ctx context.Context, incident domain.Incident) {
	for _, n := range m {
		n.IncidentOpened(ctx, incident)
	}
}

func (m Multi) IncidentResolved(ctx context.Context, incident domain.Incident) {
	for _, n := range m {
		n.IncidentResolved(ctx, incident)
	}
}

func alertMessage(alert domain.Alert) Message {
	return Message{Kind: KindAlert, Data: view.FromAlert(alert)}
}

func incidentMessage(kind Kind, incident domain.Incident) Message {
	return Message{Kind: kind, Data: view.FromIncident(incident)}
}

func encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s notification: %w", msg.Kind, err)
	}
	return payload, nil
}
