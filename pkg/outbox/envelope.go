package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/courier-backend/pkg/enums"
)

var (
	ErrEnvelopeNoEventID = errors.New("envelope has no event id")
	ErrEnvelopeNoData    = errors.New("envelope has no data")
)

// ActorRef is the user, or system job, behind an event. UserID is uuid.Nil
// for system actors.
type ActorRef struct {
	UserID uuid.UUID  `json:"userId"`
	Role   enums.Role `json:"role,omitempty"`
}

func SystemActor() *ActorRef {
	return &ActorRef{Role: enums.RoleSystem}
}

// PayloadEnvelope wraps every payload stored in outbox_events and sent as the
// Pub/Sub message body. Its JSON field names are a wire contract.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// ParseEnvelope decodes raw and requires an event id and non-null data.
func ParseEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	env.EventID = strings.TrimSpace(env.EventID)
	if env.EventID == "" {
		return env, ErrEnvelopeNoEventID
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, ErrEnvelopeNoData
	}
	return env, nil
}
