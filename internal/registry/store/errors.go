package store

import "fmt"

// NotFoundError indicates the resource was not found (or user lacks access).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates a uniqueness/conflict violation.
type ConflictError struct {
	Message string
	Code    string
	Details map[string]interface{}
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ForbiddenError indicates insufficient access.
type ForbiddenError struct{}

func (e *ForbiddenError) Error() string {
	return "forbidden"
}

// DepthExceededError indicates an append would push a message past
// MAX_LINEAGE_DEPTH.
type DepthExceededError struct {
	ConversationID string
	Depth          int
	Max            int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("conversation %s: depth %d exceeds max %d", e.ConversationID, e.Depth, e.Max)
}

// BranchDivergentError indicates a branch-tagged append whose new
// message's lineage does not contain the branch's current leaf.
type BranchDivergentError struct {
	BranchID      string
	CurrentLeafID string
}

func (e *BranchDivergentError) Error() string {
	return fmt.Sprintf("branch %s: divergent from current leaf %s", e.BranchID, e.CurrentLeafID)
}

// BatchTooLargeError indicates a tree read or fork copy would exceed the
// configured maximum message-batch size.
type BatchTooLargeError struct {
	Operation string
	Count     int
	Max       int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("%s: %d messages exceeds max batch size %d", e.Operation, e.Count, e.Max)
}
