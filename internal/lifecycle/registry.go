package lifecycle

import (
	"fmt"

	"github.com/google/uuid"

	"agentdesk/internal/domain"
)

// CreateAssignments adds one in_progress conversation per endpoint id, in
// input order. Duplicate ids produce separate assignments.
func CreateAssignments(t *domain.Task, endpointIDs []string, newID func() string) []domain.ConversationAssignment {
	if newID == nil {
		newID = uuid.NewString
	}
	created := make([]domain.ConversationAssignment, 0, len(endpointIDs))
	for _, endpoint := range endpointIDs {
		c := domain.ConversationAssignment{
			ID:             newID(),
			AgentAccountID: endpoint,
			Status:         domain.StatusInProgress,
		}
		t.Conversations = append(t.Conversations, c)
		created = append(created, c)
	}
	return created
}

// Find returns a pointer into t's conversation list.
func Find(t *domain.Task, conversationID string) (*domain.ConversationAssignment, error) {
	for i := range t.Conversations {
		if t.Conversations[i].ID == conversationID {
			return &t.Conversations[i], nil
		}
	}
	return nil, domain.NotFound("conversation", conversationID)
}

// Transition reports whether a conversation may move from one status to
// another. Every edge is open, self-transitions included, so supervisors can
// reopen or correct a conversation.
func Transition(from, to domain.ConversationStatus) error {
	if !to.Valid() {
		return domain.InvalidArgumentError{Field: "status", Reason: fmt.Sprintf("unknown conversation status %q", to)}
	}
	return nil
}

// UpdateStatus sets status and result on c.
func UpdateStatus(c *domain.ConversationAssignment, status domain.ConversationStatus, result *string) error {
	if err := Transition(c.Status, status); err != nil {
		return err
	}
	c.Status = status
	if result != nil {
		r := *result
		result = &r
	}
	c.Result = result
	return nil
}
