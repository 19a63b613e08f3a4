package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"agentdesk/internal/domain"
)

const (
	// DefaultAutoDiffEvery is the dialogue count interval that triggers a
	// system diff.
	DefaultAutoDiffEvery = 10
	// DefaultReminderStep is the step appended by system diffs.
	DefaultReminderStep = "Add onboarding reminder"
)

// Recorder appends dialogue records and proposes system diffs.
type Recorder struct {
	AutoDiffEvery int
	ReminderStep  string
	NewID         func() string
}

// Turn is one dialogue update for a conversation.
type Turn struct {
	ConversationID string
	Status         domain.ConversationStatus
	Result         *string
	Notes          *string
	Metrics        map[domain.Metric]int
	At             time.Time
}

// Recorded reports what a Record call appended.
type Recorded struct {
	Dialogue domain.DialogueRecord
	AutoDiff *domain.InstructionDiff
}

// Record updates the conversation, appends the dialogue record and, when the
// dialogue count reaches a multiple of AutoDiffEvery, proposes one system
// diff appending the reminder step.
func (r Recorder) Record(t *domain.Task, turn Turn) (Recorded, error) {
	for m := range turn.Metrics {
		if !m.Valid() {
			return Recorded{}, domain.InvalidArgumentError{Field: "metrics", Reason: fmt.Sprintf("unknown metric %q", m)}
		}
	}
	conv, err := Find(t, turn.ConversationID)
	if err != nil {
		return Recorded{}, err
	}
	if err := UpdateStatus(conv, turn.Status, turn.Result); err != nil {
		return Recorded{}, err
	}
	metrics := make(map[domain.Metric]int, len(turn.Metrics))
	for m, score := range turn.Metrics {
		metrics[m] = score
	}
	var notes *string
	if turn.Notes != nil {
		n := *turn.Notes
		notes = &n
	}
	rec := domain.DialogueRecord{
		ConversationID: turn.ConversationID,
		Timestamp:      turn.At.UTC(),
		Status:         turn.Status,
		Notes:          notes,
		Metrics:        metrics,
	}
	t.Dialogues = append(t.Dialogues, rec)
	out := Recorded{Dialogue: rec}

	every := r.AutoDiffEvery
	if every <= 0 {
		every = DefaultAutoDiffEvery
	}
	if len(t.Dialogues)%every == 0 {
		d := Propose(t, r.reminderDiff(t.CurrentInstruction), r.NewID, turn.At.UTC())
		out.AutoDiff = &d
	}
	return out, nil
}

func (r Recorder) reminderDiff(current domain.InstructionSet) domain.InstructionDiff {
	reminder := r.ReminderStep
	if reminder == "" {
		reminder = DefaultReminderStep
	}
	proposed := append(append([]string{}, current.Steps...), reminder)
	return domain.InstructionDiff{
		Field:    FieldSteps,
		Previous: strings.Join(current.Steps, ListSeparator),
		Proposed: strings.Join(proposed, ListSeparator),
		Origin:   domain.OriginSystem,
	}
}
