package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// QueueOperation enumerates deferred backing-store writes.
type QueueOperation string

const (
	QueueOpCreateSession QueueOperation = "create_session"
	QueueOpCreateLog     QueueOperation = "create_log"
	QueueOpUpdateSession QueueOperation = "update_session"
	QueueOpUpdateLog     QueueOperation = "update_log"
)

// Valid returns true for supported operations.
func (o QueueOperation) Valid() bool {
	switch o {
	case QueueOpCreateSession, QueueOpCreateLog, QueueOpUpdateSession, QueueOpUpdateLog:
		return true
	default:
		return false
	}
}

// QueueStatus captures queue item lifecycle states.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueueItem is a write that could not reach the backing store synchronously.
type QueueItem struct {
	ID         string         `db:"id" json:"id"`
	Operation  QueueOperation `db:"operation" json:"operation"`
	Payload    QueuePayload   `db:"payload" json:"payload"`
	RetryCount int            `db:"retry_count" json:"retry_count"`
	Status     QueueStatus    `db:"status" json:"status"`
	LastError  *string        `db:"last_error" json:"last_error,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// QueueFilter narrows queue listings.
type QueueFilter struct {
	Status *QueueStatus
	Limit  int
}

// QueuePayload stores the serialized operation body.
type QueuePayload json.RawMessage

// NewQueuePayload marshals v into a payload.
func NewQueuePayload(v interface{}) (QueuePayload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal queue payload: %w", err)
	}
	return QueuePayload(data), nil
}

// Decode unmarshals the payload into v.
func (p QueuePayload) Decode(v interface{}) error {
	if err := json.Unmarshal(p, v); err != nil {
		return fmt.Errorf("unmarshal queue payload: %w", err)
	}
	return nil
}

// MarshalJSON emits the payload verbatim.
func (p QueuePayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON stores a copy of data.
func (p *QueuePayload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}

// Value returns the payload bytes for persistence.
func (p QueuePayload) Value() (driver.Value, error) {
	return []byte(p), nil
}

// Scan copies BLOB/TEXT column data into the payload.
func (p *QueuePayload) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append(QueuePayload(nil), v...)
	case string:
		*p = QueuePayload(v)
	default:
		return fmt.Errorf("unsupported type %T for QueuePayload", value)
	}
	return nil
}

// SessionWrite is the payload of create_session and update_session items.
type SessionWrite struct {
	Session SessionRecord      `json:"session"`
	Logs    []AttendanceRecord `json:"logs"`
}

// LogWrite is the payload of create_log and update_log items.
type LogWrite struct {
	SessionID string           `json:"session_id"`
	Record    AttendanceRecord `json:"record"`
}
