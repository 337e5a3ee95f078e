package authorize

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mquinn/gatekeep/internal/bus"
)

// DefaultTTL bounds how long a request stays answerable.
const DefaultTTL = 5 * time.Minute

// The shell execution tool carries its command inside tool input.
const shellTool = "Bash"

// Store keeps authorization requests in memory. Requests are lost on
// restart by design; callers treat "not found" the same as "expired".
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	requests map[string]*Request
}

// NewStore creates a request store with the given TTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:      ttl,
		now:      time.Now,
		requests: make(map[string]*Request),
	}
}

// TTL returns the configured request time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create generates an id and stores a pending request. Options default
// to a plain Yes/No pair when the origin protocol supplies none, and
// the command is extracted from shell tool input when absent.
func (s *Store) Create(input CreateInput) *Request {
	command := strings.TrimSpace(input.Command)
	if command == "" && input.Tool == shellTool {
		if v, ok := input.ToolInput["command"].(string); ok {
			command = strings.TrimSpace(v)
		}
	}

	options := make([]string, 0, len(input.Options))
	for _, opt := range input.Options {
		if strings.TrimSpace(opt) != "" {
			options = append(options, opt)
		}
	}
	if len(options) == 0 {
		options = []string{"Yes", "No"}
	}

	req := &Request{
		ID:        uuid.NewString(),
		SessionID: input.SessionID,
		Tool:      strings.TrimSpace(input.Tool),
		ToolInput: input.ToolInput,
		Command:   command,
		Options:   options,
		CWD:       strings.TrimSpace(input.CWD),
		Status:    StatusPending,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.requests[req.ID] = req
	s.mu.Unlock()
	return req
}

// Get returns a snapshot of the request, flipping it to expired in
// place when its TTL has elapsed. Expiry is computed lazily on read.
func (s *Store) Get(id string) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil
	}
	if req.Status == StatusPending && s.now().Sub(req.CreatedAt) > s.ttl {
		req.Status = StatusExpired
	}
	snapshot := *req
	return &snapshot
}

// Resolve transitions a pending request to resolved. Non-pending
// requests are returned unchanged: duplicate clicks never overwrite
// the first decision.
func (s *Store) Resolve(id string, decision Decision, reason string) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil
	}
	if req.Status != StatusPending {
		snapshot := *req
		return &snapshot
	}

	req.Status = StatusResolved
	req.Decision = decision
	req.DecisionReason = reason
	req.ResolvedAt = s.now()
	snapshot := *req
	return &snapshot
}

// AttachMessageRef records the delivered card's reference on the request.
func (s *Store) AttachMessageRef(id string, ref bus.MessageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req, ok := s.requests[id]; ok {
		req.MessageRef = ref
	}
}

// Cleanup removes requests older than twice the TTL regardless of
// status and returns snapshots of the dropped records, with requests
// still pending at removal flipped to expired.
func (s *Store) Cleanup() []Request {
	cutoff := s.now().Add(-2 * s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []Request
	for id, req := range s.requests {
		if req.CreatedAt.Before(cutoff) {
			delete(s.requests, id)
			if req.Status == StatusPending {
				req.Status = StatusExpired
			}
			removed = append(removed, *req)
		}
	}
	return removed
}

// PendingCount returns how many requests are currently pending,
// without triggering lazy expiry.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, req := range s.requests {
		if req.Status == StatusPending {
			count++
		}
	}
	return count
}
