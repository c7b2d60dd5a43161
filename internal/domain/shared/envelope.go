package shared

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Identity event types carried on the wire
const (
	EventTypeUserCreated = "UserCreated"
	EventTypeUserUpdated = "UserUpdated"
	EventTypeUserDeleted = "UserDeleted"
)

// FactKind is the kind of identity fact recorded by a business mutation
type FactKind string

const (
	FactCreated FactKind = "Created"
	FactUpdated FactKind = "Updated"
	FactDeleted FactKind = "Deleted"
)

// EventType returns the wire type tag for the fact kind
func (k FactKind) EventType() (string, error) {
	switch k {
	case FactCreated:
		return EventTypeUserCreated, nil
	case FactUpdated:
		return EventTypeUserUpdated, nil
	case FactDeleted:
		return EventTypeUserDeleted, nil
	default:
		return "", fmt.Errorf("%w: unknown fact kind %q", ErrInvalidFact, string(k))
	}
}

// IsKnownEventType reports whether t is one of the identity event types
func IsKnownEventType(t string) bool {
	switch t {
	case EventTypeUserCreated, EventTypeUserUpdated, EventTypeUserDeleted:
		return true
	}
	return false
}

// UserPayload is the JSON payload of every identity event.
// UserName is omitted for UserDeleted. Version is the user aggregate's
// version after the mutation; it increases by one with every fact about the
// user and orders those facts independently of any clock.
type UserPayload struct {
	ID       uuid.UUID `json:"id" validate:"required"`
	UserName *string   `json:"userName,omitempty"`
	Version  int64     `json:"version" validate:"gte=1"`
}

// Envelope is the wire representation of an identity fact.
// ID is generated once and is the idempotency key end to end.
type Envelope struct {
	id         uuid.UUID
	eventType  string
	payload    json.RawMessage
	occurredAt time.Time
}

// envelopeWire is the JSON shape of an Envelope
type envelopeWire struct {
	ID         uuid.UUID       `json:"id" validate:"required"`
	Type       string          `json:"type" validate:"required"`
	Payload    json.RawMessage `json:"payload" validate:"required"`
	OccurredAt time.Time       `json:"occurredAt"`
}

var envelopeValidator = validator.New(validator.WithRequiredStructEnabled())

// NewUserEnvelope builds a new envelope for an identity fact with a fresh id.
// version is the aggregate version the mutation produced.
func NewUserEnvelope(kind FactKind, userID uuid.UUID, userName *string, version int64, occurredAt time.Time) (Envelope, error) {
	eventType, err := kind.EventType()
	if err != nil {
		return Envelope{}, err
	}
	if userID == uuid.Nil {
		return Envelope{}, fmt.Errorf("%w: user id is required", ErrInvalidFact)
	}
	if version < 1 {
		return Envelope{}, fmt.Errorf("%w: aggregate version must be positive, got %d", ErrInvalidFact, version)
	}

	payload := UserPayload{ID: userID, Version: version}
	if kind != FactDeleted {
		if userName == nil || strings.TrimSpace(*userName) == "" {
			return Envelope{}, fmt.Errorf("%w: user name is required for %s", ErrInvalidFact, eventType)
		}
		name := *userName
		payload.UserName = &name
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal user payload: %w", err)
	}

	return Envelope{
		id:         uuid.New(),
		eventType:  eventType,
		payload:    raw,
		occurredAt: occurredAt.UTC(),
	}, nil
}

// RestoreEnvelope rebuilds an envelope from stored fields.
func RestoreEnvelope(id uuid.UUID, eventType string, payload []byte, occurredAt time.Time) Envelope {
	return Envelope{
		id:         id,
		eventType:  eventType,
		payload:    bytes.Clone(payload),
		occurredAt: occurredAt,
	}
}

// ID returns the message identifier
func (e Envelope) ID() uuid.UUID {
	return e.id
}

// Type returns the event type tag
func (e Envelope) Type() string {
	return e.eventType
}

// Payload returns a copy of the raw JSON payload
func (e Envelope) Payload() []byte {
	return bytes.Clone(e.payload)
}

// OccurredAt returns when the fact happened in the identity service
func (e Envelope) OccurredAt() time.Time {
	return e.occurredAt
}

// MarshalJSON encodes the envelope in its wire form
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeWire{
		ID:         e.id,
		Type:       e.eventType,
		Payload:    e.payload,
		OccurredAt: e.occurredAt,
	})
}

// DecodeEnvelope parses a message body. All failures are permanent: the same
// bytes will never decode on a later attempt.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var w envelopeWire
	if err := json.Unmarshal(body, &w); err != nil {
		return Envelope{}, Permanent(fmt.Errorf("%w: %v", ErrMalformedEnvelope, err))
	}
	if err := envelopeValidator.Struct(w); err != nil {
		return Envelope{}, Permanent(fmt.Errorf("%w: %v", ErrMalformedEnvelope, err))
	}
	if !IsKnownEventType(w.Type) {
		return Envelope{}, Permanent(fmt.Errorf("%w: %q", ErrUnknownEventType, w.Type))
	}
	return RestoreEnvelope(w.ID, w.Type, w.Payload, w.OccurredAt), nil
}

// UserPayload decodes and validates the envelope payload for its type.
func (e Envelope) UserPayload() (UserPayload, error) {
	var p UserPayload
	if err := json.Unmarshal(e.payload, &p); err != nil {
		return UserPayload{}, Permanent(fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, err))
	}
	if err := envelopeValidator.Struct(p); err != nil {
		return UserPayload{}, Permanent(fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, err))
	}
	if p.ID == uuid.Nil {
		return UserPayload{}, Permanent(fmt.Errorf("%w: payload id is empty", ErrMalformedEnvelope))
	}
	if e.eventType != EventTypeUserDeleted && (p.UserName == nil || strings.TrimSpace(*p.UserName) == "") {
		return UserPayload{}, Permanent(fmt.Errorf("%w: userName is required for %s", ErrMalformedEnvelope, e.eventType))
	}
	return p, nil
}
