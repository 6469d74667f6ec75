package model

import "time"

type EventType string

const (
	EventLeaseRequested      EventType = "LeaseRequested"
	EventLeaseApproved       EventType = "LeaseApproved"
	EventLeaseDenied         EventType = "LeaseDenied"
	EventLeaseFrozen         EventType = "LeaseFrozen"
	EventLeaseTerminated     EventType = "LeaseTerminated"
	EventAccountEjected      EventType = "AccountEjected"
	EventAccountQuarantined  EventType = "AccountQuarantined"
	EventCleanAccountRequest EventType = "CleanAccountRequest"
)

// Event is a committed-transition notification. Payloads are
// JSON-serializable records; delivery is at-least-once.
type Event struct {
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Detail     map[string]any `json:"detail"`
}

func LeaseEvent(t EventType, l Lease, extra map[string]any) Event {
	detail := map[string]any{
		"lease_uuid": l.UUID,
		"owner":      l.Owner,
		"status":     string(l.Status),
	}
	if l.AWSAccountID != "" {
		detail["aws_account_id"] = l.AWSAccountID
	}
	for k, v := range extra {
		detail[k] = v
	}
	return Event{Type: t, OccurredAt: time.Now().UTC(), Detail: detail}
}

func AccountEvent(t EventType, accountID string, extra map[string]any) Event {
	detail := map[string]any{"aws_account_id": accountID}
	for k, v := range extra {
		detail[k] = v
	}
	return Event{Type: t, OccurredAt: time.Now().UTC(), Detail: detail}
}
