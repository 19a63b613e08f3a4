package lifecycle

import "agentdesk/internal/domain"

// Aggregate derives a task-level status: completed when the list is
// non-empty and every entry is completed, failed when any entry failed,
// in_progress otherwise (including the empty list).
func Aggregate(conversations []domain.ConversationAssignment) domain.ConversationStatus {
	allCompleted := len(conversations) > 0
	anyFailed := false
	for _, c := range conversations {
		if c.Status != domain.StatusCompleted {
			allCompleted = false
		}
		if c.Status == domain.StatusFailed {
			anyFailed = true
		}
	}
	switch {
	case allCompleted:
		return domain.StatusCompleted
	case anyFailed:
		return domain.StatusFailed
	default:
		return domain.StatusInProgress
	}
}

// Filter keeps the conversations whose id is in ids, preserving order. An
// empty ids means no filter.
func Filter(conversations []domain.ConversationAssignment, ids []string) []domain.ConversationAssignment {
	if len(ids) == 0 {
		return append([]domain.ConversationAssignment{}, conversations...)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	out := make([]domain.ConversationAssignment, 0, len(conversations))
	for _, c := range conversations {
		if _, ok := set[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out
}
