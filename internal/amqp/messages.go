package amqp

import (
	"encoding/json"
	"time"
)

// SyncEvent is published after the remote store confirms an outbox entry.
// It carries only identifiers; consumers fetch the record if they need it.
type SyncEvent struct {
	EntryID   string    `json:"entry_id"`
	ExpenseID string    `json:"expense_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// RemoteChangeMessage announces that the remote store changed outside this
// client, e.g. another device or a spreadsheet edit. An empty Month means
// the whole store should be refreshed. Origin identifies the publishing
// process so it can ignore its own announcements.
type RemoteChangeMessage struct {
	Month     string    `json:"month,omitempty"`
	Source    string    `json:"source,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSyncEvent(entryID, expenseID, action string) *SyncEvent {
	return &SyncEvent{
		EntryID:   entryID,
		ExpenseID: expenseID,
		Action:    action,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SyncEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func (m *RemoteChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RemoteChangeMessageFromJSON creates a message from JSON bytes
func RemoteChangeMessageFromJSON(data []byte) (*RemoteChangeMessage, error) {
	var msg RemoteChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
