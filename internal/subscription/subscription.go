// Package subscription implements MainSubscription, the per-(re)connection
// tracker for the provider's two long-lived filters (requests, responses)
// and the stale-request replay rules that make dispatch at-most-once
// across restarts.
package subscription

import (
	"sync"

	"nwcprovider/internal/nostrevent"
)

// MainSubscription is owned exclusively by the relay reader goroutine; any
// other goroutine must treat it as read-only, per the concurrency model.
type MainSubscription struct {
	RequestsSubID  string
	ResponsesSubID string

	mu            sync.Mutex
	requestsEOSE  bool
	responsesEOSE bool
	events        map[string]*nostrevent.Event // buffered requests, by id
	responded     map[string]bool              // request ids already answered
	order         []string                     // arrival order of buffered request ids
}

// New creates a fresh MainSubscription for a (re)subscription cycle.
func New(requestsSubID, responsesSubID string) *MainSubscription {
	return &MainSubscription{
		RequestsSubID:  requestsSubID,
		ResponsesSubID: responsesSubID,
		events:         make(map[string]*nostrevent.Event),
		responded:      make(map[string]bool),
	}
}

// BothEOSE reports whether both subscriptions have reached end-of-stored-events.
func (s *MainSubscription) BothEOSE() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestsEOSE && s.responsesEOSE
}

// OnRequestEvent buffers an incoming request event and reports whether it
// may be dispatched immediately: dispatchNow is true if both subscriptions
// have already reached EOSE. Otherwise dispatchNow is false and the event
// waits in the buffer for replay when EOSE arrives.
func (s *MainSubscription) OnRequestEvent(evt *nostrevent.Event) (dispatchNow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.events[evt.ID]; !seen {
		s.events[evt.ID] = evt
		s.order = append(s.order, evt.ID)
	}
	return s.requestsEOSE && s.responsesEOSE
}

// OnResponseEvent registers every e-tag of a response event the provider
// itself authored as already answered.
func (s *MainSubscription) OnResponseEvent(evt *nostrevent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reqID := range evt.Tags.GetAll("e") {
		s.responded[reqID] = true
	}
}

// MarkResponded records a request id as answered; called by the dispatcher
// once every publish of the corresponding response event(s) has returned,
// per spec §4.5 step 7, so a publish that is still blocked waiting on a
// reconnecting relay is never mistaken for one already delivered. A
// request whose response publish failed is marked all the same.
func (s *MainSubscription) MarkResponded(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responded[requestID] = true
}

// SetRequestsEOSE marks the requests subscription as caught up, returning
// the events newly ready to replay if both subscriptions are now caught up.
func (s *MainSubscription) SetRequestsEOSE() []*nostrevent.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestsEOSE = true
	return s.replayLocked()
}

// SetResponsesEOSE marks the responses subscription as caught up, returning
// the events newly ready to replay if both subscriptions are now caught up.
func (s *MainSubscription) SetResponsesEOSE() []*nostrevent.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responsesEOSE = true
	return s.replayLocked()
}

// replayLocked returns, in arrival order, every buffered request not yet
// marked responded, once both EOSE flags are set. Must be called with mu held.
func (s *MainSubscription) replayLocked() []*nostrevent.Event {
	if !(s.requestsEOSE && s.responsesEOSE) {
		return nil
	}
	out := make([]*nostrevent.Event, 0, len(s.order))
	for _, id := range s.order {
		if s.responded[id] {
			continue
		}
		if evt, ok := s.events[id]; ok {
			out = append(out, evt)
		}
	}
	return out
}
