package domain

import "time"

// ConversationStatus is the lifecycle state of a conversation assignment and
// the snapshot stored on each dialogue record.
type ConversationStatus string

const (
	StatusInProgress ConversationStatus = "in_progress"
	StatusCompleted  ConversationStatus = "completed"
	StatusFailed     ConversationStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Metric is one of the fixed radar metric kinds scored per dialogue.
type Metric string

const (
	MetricPersuasion      Metric = "persuasion"
	MetricBriefCompliance Metric = "brief_compliance"
	MetricAdaptability    Metric = "adaptability"
	MetricAnswerQuality   Metric = "answer_quality"
	MetricResilience      Metric = "resilience"
	MetricMCPUsage        Metric = "mcp_usage"
)

// Metrics lists every metric kind in reporting order.
var Metrics = []Metric{
	MetricPersuasion,
	MetricBriefCompliance,
	MetricAdaptability,
	MetricAnswerQuality,
	MetricResilience,
	MetricMCPUsage,
}

func (m Metric) Valid() bool {
	for _, known := range Metrics {
		if m == known {
			return true
		}
	}
	return false
}

type DiffStatus string

const (
	DiffPending  DiffStatus = "pending"
	DiffAccepted DiffStatus = "accepted"
	DiffRejected DiffStatus = "rejected"
)

type DiffOrigin string

const (
	OriginCaller DiffOrigin = "caller"
	OriginSystem DiffOrigin = "system"
)

type Attachment struct {
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
}

// Capability is a named function the agent may call.
type Capability struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// InstructionSet is a complete snapshot of an agent's operating instructions.
// Snapshots are values: replacing a field means building a new snapshot.
type InstructionSet struct {
	Background         string       `json:"background"`
	Goal               string       `json:"goal"`
	Steps              []string     `json:"steps"`
	ResponseRules      []string     `json:"response_rules"`
	CommunicationStyle string       `json:"communication_style"`
	FileRules          []string     `json:"file_rules"`
	AllowedFunctions   []Capability `json:"allowed_functions"`
	ProactivityLevel   string       `json:"proactivity_level"`
	AgentAccountID     string       `json:"telegram_account_id,omitempty"`
}

// Clone returns a copy that shares no slices with s.
func (s InstructionSet) Clone() InstructionSet {
	out := s
	out.Steps = cloneStrings(s.Steps)
	out.ResponseRules = cloneStrings(s.ResponseRules)
	out.FileRules = cloneStrings(s.FileRules)
	if s.AllowedFunctions != nil {
		out.AllowedFunctions = append([]Capability{}, s.AllowedFunctions...)
	}
	return out
}

type InstructionDiff struct {
	ID        string     `json:"id"`
	Field     string     `json:"field"`
	Previous  string     `json:"previous"`
	Proposed  string     `json:"proposed"`
	Origin    DiffOrigin `json:"origin"`
	Status    DiffStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at" format:"date-time"`
}

// SameChange reports whether d and o propose the same field change.
func (d InstructionDiff) SameChange(o InstructionDiff) bool {
	return d.Field == o.Field && d.Previous == o.Previous && d.Proposed == o.Proposed
}

type ConversationAssignment struct {
	ID             string             `json:"id"`
	AgentAccountID string             `json:"telegram_account_id"`
	Status         ConversationStatus `json:"status" enum:"in_progress,completed,failed"`
	Result         *string            `json:"result,omitempty"`
}

type DialogueRecord struct {
	ConversationID string             `json:"conversation_id"`
	Timestamp      time.Time          `json:"timestamp" format:"date-time"`
	Status         ConversationStatus `json:"status" enum:"in_progress,completed,failed"`
	Notes          *string            `json:"notes,omitempty"`
	Metrics        map[Metric]int     `json:"metrics"`
}

type TaskSummary struct {
	ConversionRate float64  `json:"conversion_rate"`
	Comments       string   `json:"comments"`
	Challenges     string   `json:"challenges"`
	FunFacts       []string `json:"fun_facts"`
}

type Task struct {
	ID                 string                   `json:"id"`
	OwnerID            string                   `json:"user_id"`
	Title              string                   `json:"title"`
	Description        string                   `json:"description"`
	Attachments        []Attachment             `json:"attachments"`
	InstructionHistory []InstructionSet         `json:"instruction_history"`
	CurrentInstruction InstructionSet           `json:"current_instruction"`
	Diffs              []InstructionDiff        `json:"diffs"`
	Conversations      []ConversationAssignment `json:"conversations"`
	Dialogues          []DialogueRecord         `json:"dialogues"`
	Summary            *TaskSummary             `json:"summary,omitempty"`
	CreatedAt          time.Time                `json:"created_at" format:"date-time"`
	UpdatedAt          time.Time                `json:"updated_at" format:"date-time"`
}

// Clone deep-copies t so the copy can be mutated without affecting readers
// holding the original.
func (t Task) Clone() Task {
	out := t
	out.Attachments = append([]Attachment{}, t.Attachments...)
	out.InstructionHistory = make([]InstructionSet, len(t.InstructionHistory))
	for i, s := range t.InstructionHistory {
		out.InstructionHistory[i] = s.Clone()
	}
	out.CurrentInstruction = t.CurrentInstruction.Clone()
	out.Diffs = append([]InstructionDiff{}, t.Diffs...)
	out.Conversations = make([]ConversationAssignment, len(t.Conversations))
	for i, c := range t.Conversations {
		if c.Result != nil {
			r := *c.Result
			c.Result = &r
		}
		out.Conversations[i] = c
	}
	out.Dialogues = make([]DialogueRecord, len(t.Dialogues))
	for i, d := range t.Dialogues {
		if d.Notes != nil {
			n := *d.Notes
			d.Notes = &n
		}
		metrics := make(map[Metric]int, len(d.Metrics))
		for k, v := range d.Metrics {
			metrics[k] = v
		}
		d.Metrics = metrics
		out.Dialogues[i] = d
	}
	if t.Summary != nil {
		s := *t.Summary
		s.FunFacts = cloneStrings(t.Summary.FunFacts)
		out.Summary = &s
	}
	return out
}

type KeyStatus string

const (
	KeyActive   KeyStatus = "active"
	KeyInactive KeyStatus = "inactive"
)

type AccountStatus string

const (
	AccountReady  AccountStatus = "ready"
	AccountBanned AccountStatus = "banned"
)

// DefaultModel is assigned to every new key.
const DefaultModel = "Gemini Flash"

type Key struct {
	ID                  string            `json:"id"`
	KeyHash             string            `json:"key_hash"`
	Status              KeyStatus         `json:"status" enum:"active,inactive"`
	UserID              string            `json:"user_id,omitempty"`
	AgentAccountIDs     []string          `json:"telegram_account_ids"`
	AllowModelSelection bool              `json:"allow_model_selection"`
	TaskModelOverrides  map[string]string `json:"task_model_overrides"`
	DefaultModel        string            `json:"default_model"`
	CreatedAt           time.Time         `json:"created_at" format:"date-time"`
}

func (k Key) Clone() Key {
	out := k
	out.AgentAccountIDs = cloneStrings(k.AgentAccountIDs)
	out.TaskModelOverrides = make(map[string]string, len(k.TaskModelOverrides))
	for id, model := range k.TaskModelOverrides {
		out.TaskModelOverrides[id] = model
	}
	return out
}

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
	KeyID        string `json:"key_id"`
}

// AgentAccount is a messaging account an agent operates through.
type AgentAccount struct {
	ID          string        `json:"id"`
	Label       string        `json:"label"`
	Credentials string        `json:"credentials"`
	Status      AccountStatus `json:"status" enum:"ready,banned"`
	KeyID       string        `json:"key_id,omitempty"`
}

type Event struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts" format:"date-time"`
	Type       string    `json:"type"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	Payload    string    `json:"payload_json"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}
