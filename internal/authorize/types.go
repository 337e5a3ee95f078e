package authorize

import (
	"time"

	"github.com/mquinn/gatekeep/internal/bus"
)

// Status is the lifecycle state of an authorization request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusExpired  Status = "expired"
)

// Decision is the operator's verdict on a request.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Request is a single pending decision exchange for one proposed
// sensitive operation. Decision and DecisionReason are set if and only
// if Status is resolved; a resolved request is immutable.
type Request struct {
	ID             string
	SessionID      string
	Tool           string
	ToolInput      map[string]any
	Command        string
	Options        []string
	CWD            string
	Status         Status
	Decision       Decision
	DecisionReason string
	CreatedAt      time.Time
	ResolvedAt     time.Time
	MessageRef     bus.MessageRef
}

// CreateInput contains fields needed to create an authorization request.
type CreateInput struct {
	SessionID string
	Tool      string
	ToolInput map[string]any
	Command   string
	Options   []string
	CWD       string
}
