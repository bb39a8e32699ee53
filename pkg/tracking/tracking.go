// Package tracking implements the Tracking Engine (C6): the authoritative,
// append-only log of Communications, DeliveryRecords, and Responses, with
// indexed lookups by communication, thread, recipient, and time window.
// Indexing is grounded on gomind's pkg/discovery/redis.go secondary-index
// pattern, reimplemented in-process with sync.RWMutex-guarded maps instead
// of Redis, per the concurrency model's "shard by concern, no global lock"
// rule.
package tracking

import (
	"sort"
	"sync"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/clock"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/simerr"
)

// Store is the Tracking Engine. One reader-writer lock guards all indices;
// reads (the common case: metrics queries, wisdom snapshots) never block
// each other.
type Store struct {
	mu sync.RWMutex

	communications map[string]*model.Communication
	deliveries     map[string]*model.DeliveryRecord // key: commID+"|"+recipientID
	responses      map[string]*model.Response

	byThread    map[string][]string // threadID -> communication IDs, send order
	byRecipient map[string][]string // recipientID -> response IDs, append order
	responsesByComm map[string][]string // commID -> response IDs, append order
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		communications:   make(map[string]*model.Communication),
		deliveries:       make(map[string]*model.DeliveryRecord),
		responses:        make(map[string]*model.Response),
		byThread:         make(map[string][]string),
		byRecipient:      make(map[string][]string),
		responsesByComm:  make(map[string][]string),
	}
}

func deliveryKey(commID, recipientID string) string { return commID + "|" + recipientID }

// RecordCommunication appends a new Communication and a pending
// DeliveryRecord for each recipient. It is the only way a Communication
// enters the log.
func (s *Store) RecordCommunication(c *model.Communication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communications[c.ID] = c
	s.byThread[c.ThreadID] = append(s.byThread[c.ThreadID], c.ID)
	for _, r := range c.RecipientIDs {
		key := deliveryKey(c.ID, r)
		s.deliveries[key] = &model.DeliveryRecord{
			CommunicationID: c.ID,
			RecipientID:     r,
			Status:          model.DeliveryPending,
		}
	}
}

// GetCommunication returns a communication by ID.
func (s *Store) GetCommunication(id string) (*model.Communication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.communications[id]
	if !ok {
		return nil, simerr.New("tracking.GetCommunication", simerr.KindInvalidArgument, id, simerr.ErrCommunicationNotFound)
	}
	return c, nil
}

// MarkDelivered transitions a DeliveryRecord to delivered at the given
// simulated instant.
func (s *Store) MarkDelivered(commID, recipientID string, at clock.SimTime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[deliveryKey(commID, recipientID)]
	if !ok {
		return
	}
	d.Status = model.DeliveryDelivered
	d.ActualDeliveryTime = at
	d.HasActualDeliveryTime = true
}

// MarkFailed transitions a DeliveryRecord to failed (e.g. recipient no
// longer exists, §4.5).
func (s *Store) MarkFailed(commID, recipientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.deliveries[deliveryKey(commID, recipientID)]; ok {
		d.Status = model.DeliveryFailed
	}
}

// MarkCancelled transitions a DeliveryRecord to cancelled (stop() drain).
func (s *Store) MarkCancelled(commID, recipientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.deliveries[deliveryKey(commID, recipientID)]; ok && d.Status == model.DeliveryPending {
		d.Status = model.DeliveryCancelled
	}
}

// GetDelivery returns the DeliveryRecord for (commID, recipientID).
func (s *Store) GetDelivery(commID, recipientID string) (*model.DeliveryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[deliveryKey(commID, recipientID)]
	return d, ok
}

// DeliveriesFor returns every DeliveryRecord for a communication, in the
// order of the communication's RecipientIDs.
func (s *Store) DeliveriesFor(commID string) []*model.DeliveryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.communications[commID]
	if !ok {
		return nil
	}
	out := make([]*model.DeliveryRecord, 0, len(c.RecipientIDs))
	for _, r := range c.RecipientIDs {
		if d, ok := s.deliveries[deliveryKey(commID, r)]; ok {
			out = append(out, d)
		}
	}
	return out
}

// RecordResponse appends a Response, immutable once written.
func (s *Store) RecordResponse(r *model.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[r.ID] = r
	s.byRecipient[r.AgentID] = append(s.byRecipient[r.AgentID], r.ID)
	s.responsesByComm[r.CommunicationID] = append(s.responsesByComm[r.CommunicationID], r.ID)
}

// ResponsesForCommunication returns responses to a communication in
// append (generation) order.
func (s *Store) ResponsesForCommunication(commID string) []*model.Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.responsesByComm[commID]
	out := make([]*model.Response, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.responses[id])
	}
	return out
}

// ResponsesForTopic returns responses to every communication sharing the
// given strategic_goal tag, ordered by communication send order then
// response append order within each communication.
func (s *Store) ResponsesForTopic(strategicGoal string) []*model.Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var commIDs []string
	for id, c := range s.communications {
		if c.StrategicGoal == strategicGoal {
			commIDs = append(commIDs, id)
		}
	}
	sort.Slice(commIDs, func(i, j int) bool {
		return s.communications[commIDs[i]].CreatedAt.Before(s.communications[commIDs[j]].CreatedAt)
	})
	var out []*model.Response
	for _, id := range commIDs {
		for _, rid := range s.responsesByComm[id] {
			out = append(out, s.responses[rid])
		}
	}
	return out
}

// ResponsesInWindow returns every response created in [from, to].
func (s *Store) ResponsesInWindow(from, to clock.SimTime) []*model.Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Response
	for _, r := range s.responses {
		if !r.CreatedAt.Before(from) && !r.CreatedAt.After(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ThreadCommunications returns the communication IDs of a thread in send order.
func (s *Store) ThreadCommunications(threadID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byThread[threadID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// HasResponded reports whether recipientID has any response recorded
// against commID, used by escalation-ignore detection at TTL expiry.
func (s *Store) HasResponded(commID, recipientID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rid := range s.responsesByComm[commID] {
		if r, ok := s.responses[rid]; ok && r.AgentID == recipientID {
			return true
		}
	}
	return false
}

// Counts returns the total number of communications, responses, and
// deliveries tracked, used by the Metrics View and event log.
func (s *Store) Counts() (communications, responses, deliveries int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.communications), len(s.responses), len(s.deliveries)
}

// DeliveryStatusCounts breaks the delivery count down by status, used by
// the Metrics View's OrganizationalMetrics read model and its Prometheus
// exposition of communications delivered/failed/cancelled.
func (s *Store) DeliveryStatusCounts() map[model.DeliveryStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[model.DeliveryStatus]int{
		model.DeliveryPending:   0,
		model.DeliveryDelivered: 0,
		model.DeliveryFailed:    0,
		model.DeliveryCancelled: 0,
	}
	for _, d := range s.deliveries {
		out[d.Status]++
	}
	return out
}

// ResponseKindCounts breaks the response count down by ResponseKind, used
// by the Metrics View's OrganizationalMetrics.ResponsesByKind field.
func (s *Store) ResponseKindCounts() map[model.ResponseKind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.ResponseKind]int, len(s.responses))
	for _, r := range s.responses {
		out[r.Kind]++
	}
	return out
}
