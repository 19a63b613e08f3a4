package lifecycle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentdesk/internal/domain"
)

// ListSeparator joins list-valued instruction fields when they are rendered
// into a diff.
const ListSeparator = "; "

// Instruction field names accepted by diffs.
const (
	FieldBackground         = "background"
	FieldGoal               = "goal"
	FieldSteps              = "steps"
	FieldResponseRules      = "response_rules"
	FieldCommunicationStyle = "communication_style"
	FieldFileRules          = "file_rules"
	FieldAllowedFunctions   = "allowed_functions"
	FieldProactivityLevel   = "proactivity_level"
	FieldAgentAccountID     = "telegram_account_id"
)

// Diff actions. Any action other than accept or reject is a proposal.
const (
	ActionAccept  = "accept"
	ActionReject  = "reject"
	ActionPropose = "propose"
)

// DiffMode selects how resolutions are reflected in a task's diff list.
type DiffMode string

const (
	// DiffModeTracked marks the matching pending diff accepted or rejected.
	DiffModeTracked DiffMode = "tracked"
	// DiffModeLegacy never touches the diff list on accept/reject; every
	// listed diff stays pending.
	DiffModeLegacy DiffMode = "legacy"
)

func (m DiffMode) Valid() bool {
	return m == DiffModeTracked || m == DiffModeLegacy
}

// AppendRevision pushes instruction onto the history and makes it current.
func AppendRevision(t *domain.Task, instruction domain.InstructionSet) {
	rev := instruction.Clone()
	t.InstructionHistory = append(t.InstructionHistory, rev)
	t.CurrentInstruction = rev.Clone()
}

// ResolveDiff applies action to diff. The diff itself is never rewritten;
// only its status in the task's list may change, and only in tracked mode.
// In tracked mode a diff given by id must name a pending diff of the task,
// and that stored change is the one applied.
func ResolveDiff(t *domain.Task, diff domain.InstructionDiff, action string, mode DiffMode, newID func() string, now time.Time) error {
	switch action {
	case ActionAccept, ActionReject:
		var stored *domain.InstructionDiff
		if mode == DiffModeTracked && diff.ID != "" {
			var err error
			if stored, err = pendingByID(t, diff); err != nil {
				return err
			}
			diff = *stored
		}
		if action == ActionAccept {
			next, err := ApplyField(t.CurrentInstruction, diff.Field, diff.Proposed)
			if err != nil {
				return err
			}
			t.CurrentInstruction = next
		}
		if mode != DiffModeTracked {
			return nil
		}
		status := domain.DiffRejected
		if action == ActionAccept {
			status = domain.DiffAccepted
		}
		if stored != nil {
			stored.Status = status
			return nil
		}
		markByContent(t, diff, status)
		return nil
	default:
		if !knownField(diff.Field) {
			return domain.InvalidArgumentError{Field: "diff.field", Reason: fmt.Sprintf("unknown instruction field %q", diff.Field)}
		}
		diff.Origin = domain.OriginCaller
		Propose(t, diff, newID, now)
		return nil
	}
}

// Propose appends diff to the pending list.
func Propose(t *domain.Task, diff domain.InstructionDiff, newID func() string, now time.Time) domain.InstructionDiff {
	if diff.ID == "" {
		if newID == nil {
			newID = uuid.NewString
		}
		diff.ID = newID()
	}
	if diff.Origin == "" {
		diff.Origin = domain.OriginCaller
	}
	diff.Status = domain.DiffPending
	diff.CreatedAt = now
	t.Diffs = append(t.Diffs, diff)
	return diff
}

// pendingByID returns the task's diff with ref's id. Fields set on ref must
// agree with the stored change; empty ones are taken from it.
func pendingByID(t *domain.Task, ref domain.InstructionDiff) (*domain.InstructionDiff, error) {
	for i := range t.Diffs {
		d := &t.Diffs[i]
		if d.ID != ref.ID {
			continue
		}
		if d.Status != domain.DiffPending {
			return nil, domain.InvalidArgumentError{Field: "diff.id", Reason: fmt.Sprintf("diff already %s", d.Status)}
		}
		if (ref.Field != "" && ref.Field != d.Field) ||
			(ref.Previous != "" && ref.Previous != d.Previous) ||
			(ref.Proposed != "" && ref.Proposed != d.Proposed) {
			return nil, domain.InvalidArgumentError{Field: "diff", Reason: "does not match the stored diff with this id"}
		}
		return d, nil
	}
	return nil, domain.NotFound("diff", ref.ID)
}

// markByContent sets the status of the first pending diff proposing the same
// change as resolved.
func markByContent(t *domain.Task, resolved domain.InstructionDiff, status domain.DiffStatus) {
	for i := range t.Diffs {
		d := &t.Diffs[i]
		if d.Status == domain.DiffPending && d.SameChange(resolved) {
			d.Status = status
			return
		}
	}
}

func knownField(field string) bool {
	switch field {
	case FieldBackground, FieldGoal, FieldSteps, FieldResponseRules, FieldCommunicationStyle,
		FieldFileRules, FieldAllowedFunctions, FieldProactivityLevel, FieldAgentAccountID:
		return true
	}
	return false
}

// ApplyField returns a copy of s with field replaced by the decoded value.
func ApplyField(s domain.InstructionSet, field, value string) (domain.InstructionSet, error) {
	out := s.Clone()
	switch field {
	case FieldBackground:
		out.Background = value
	case FieldGoal:
		out.Goal = value
	case FieldSteps:
		out.Steps = splitList(value)
	case FieldResponseRules:
		out.ResponseRules = splitList(value)
	case FieldCommunicationStyle:
		out.CommunicationStyle = value
	case FieldFileRules:
		out.FileRules = splitList(value)
	case FieldAllowedFunctions:
		var fns []domain.Capability
		if strings.TrimSpace(value) != "" {
			if err := json.Unmarshal([]byte(value), &fns); err != nil {
				return s, domain.InvalidArgumentError{Field: "diff.proposed", Reason: "allowed_functions must be a JSON array: " + err.Error()}
			}
		}
		out.AllowedFunctions = fns
	case FieldProactivityLevel:
		out.ProactivityLevel = value
	case FieldAgentAccountID:
		out.AgentAccountID = strings.TrimSpace(value)
	default:
		return s, domain.InvalidArgumentError{Field: "diff.field", Reason: fmt.Sprintf("unknown instruction field %q", field)}
	}
	return out, nil
}

// Serialize renders field of s in the encoding ApplyField accepts.
func Serialize(s domain.InstructionSet, field string) (string, error) {
	switch field {
	case FieldBackground:
		return s.Background, nil
	case FieldGoal:
		return s.Goal, nil
	case FieldSteps:
		return strings.Join(s.Steps, ListSeparator), nil
	case FieldResponseRules:
		return strings.Join(s.ResponseRules, ListSeparator), nil
	case FieldCommunicationStyle:
		return s.CommunicationStyle, nil
	case FieldFileRules:
		return strings.Join(s.FileRules, ListSeparator), nil
	case FieldAllowedFunctions:
		fns := s.AllowedFunctions
		if fns == nil {
			fns = []domain.Capability{}
		}
		b, err := json.Marshal(fns)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case FieldProactivityLevel:
		return s.ProactivityLevel, nil
	case FieldAgentAccountID:
		return s.AgentAccountID, nil
	}
	return "", domain.InvalidArgumentError{Field: "field", Reason: fmt.Sprintf("unknown instruction field %q", field)}
}

func splitList(value string) []string {
	if value == "" {
		return []string{}
	}
	return strings.Split(value, ListSeparator)
}
