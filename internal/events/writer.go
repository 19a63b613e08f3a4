package events

import (
	"encoding/json"
	"time"

	"agentdesk/internal/domain"
)

// Event types recorded in the audit log.
const (
	TaskCreate          = "task.create"
	InstructionRevision = "instruction.revise"
	DiffPropose         = "diff.propose"
	DiffAccept          = "diff.accept"
	DiffReject          = "diff.reject"
	DiffAuto            = "diff.auto"
	ConversationsCreate = "conversations.create"
	DialogueRecord      = "dialogue.record"
	SummarySet          = "summary.set"
	KeyCreate           = "key.create"
	KeyUpdate           = "key.update"
	ModelSelect         = "model.select"
	AccountCreate       = "account.create"
	AccountUpdate       = "account.update"
	AccountAssign       = "account.assign"
)

type Payload map[string]any

// Writer stamps events with its clock. Events are persisted by the store
// together with the entity they describe.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Build(evtType, entityKind, entityID, actorID string, payload Payload) domain.Event {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(Payload{"marshal_error": err.Error()})
	}
	return domain.Event{
		TS:         now().UTC(),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	}
}

// Decode returns the payload of e as a map. A malformed payload yields an
// empty map.
func Decode(e domain.Event) Payload {
	out := Payload{}
	if e.Payload == "" {
		return out
	}
	_ = json.Unmarshal([]byte(e.Payload), &out)
	return out
}
