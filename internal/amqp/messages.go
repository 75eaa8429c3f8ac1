package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stairs/internal/core"
)

// EventKind names the ledger change carried by a message.
type EventKind string

const (
	EventRegistered EventKind = "registered"
	EventRenamed    EventKind = "renamed"
	EventAdded      EventKind = "added"
	EventAdjusted   EventKind = "adjusted"
)

// LedgerEventMessage describes one committed ledger change. It carries the
// resulting absolute values (DayValue, Total) next to the delta, so a
// consumer can apply it idempotently without reading the snapshot.
type LedgerEventMessage struct {
	EventID   string       `json:"eventId"`
	Kind      EventKind    `json:"kind"`
	UserID    string       `json:"userId"`
	Name      string       `json:"name"`
	Day       core.DateKey `json:"day,omitempty"`
	Delta     int          `json:"delta,omitempty"`
	DayValue  int          `json:"dayValue"`
	Total     int          `json:"total"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewLedgerEventMessage builds a message from the record state after the
// change. Timestamp is the record's UpdatedAt.
func NewLedgerEventMessage(kind EventKind, rec core.UserRecord, day core.DateKey, delta int) *LedgerEventMessage {
	msg := &LedgerEventMessage{
		EventID:   uuid.NewString(),
		Kind:      kind,
		UserID:    rec.ID,
		Name:      rec.Name,
		Day:       day,
		Delta:     delta,
		Total:     rec.Total,
		Timestamp: rec.UpdatedAt,
	}
	if day != "" {
		msg.DayValue = rec.Days[day]
	}
	return msg
}

func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON decodes and checks a message body.
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" {
		return nil, fmt.Errorf("ledger event %s has no user id", msg.EventID)
	}
	if msg.Day != "" && !msg.Day.Valid() {
		return nil, fmt.Errorf("ledger event %s: %w: %q", msg.EventID, core.ErrInvalidDateFormat, msg.Day)
	}
	if msg.DayValue < 0 || msg.Total < 0 {
		return nil, fmt.Errorf("ledger event %s has negative values", msg.EventID)
	}
	return &msg, nil
}
