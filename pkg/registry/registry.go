package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kpernyer/living-twin-simulation-sub000/simerr"
)

// Registry is the Agent Registry (C3): single-writer at construction,
// read-mostly thereafter. Lookup and filter-by-department are backed by
// plain maps built once at Load and never rebuilt (the seniority filter
// scans every agent), mirroring
// gomind's discovery-by-capability index that is rebuilt only on
// registration, not on every query.
type Registry struct {
	mu           sync.RWMutex
	agents       map[string]*Agent
	byDepartment map[string][]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:       make(map[string]*Agent),
		byDepartment: make(map[string][]string),
	}
}

// Load registers a batch of agents at simulation start. It validates that
// every direct_report_id references an agent present in the same batch,
// per the §3 invariant. Load is not safe to call concurrently with itself
// or after the simulation has started accepting traffic.
func Load(agents []*Agent) (*Registry, error) {
	r := NewRegistry()
	ids := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		if _, exists := ids[a.ID]; exists {
			return nil, simerr.New("registry.Load", simerr.KindInvalidArgument, a.ID, simerr.ErrAgentAlreadyExists)
		}
		ids[a.ID] = struct{}{}
	}
	for _, a := range agents {
		for _, reportID := range a.Profile.DirectReportIDs {
			if _, ok := ids[reportID]; !ok {
				return nil, simerr.New("registry.Load", simerr.KindInvalidArgument, a.ID,
					fmt.Errorf("%w: %s", simerr.ErrInvalidDirectReport, reportID))
			}
		}
	}
	for _, a := range agents {
		r.agents[a.ID] = a
		r.byDepartment[a.Profile.Department] = append(r.byDepartment[a.Profile.Department], a.ID)
	}
	for dept := range r.byDepartment {
		sort.Strings(r.byDepartment[dept])
	}
	return r, nil
}

// Get returns the agent with id, or ErrAgentNotFound.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, simerr.New("registry.Get", simerr.KindInvalidArgument, id, simerr.ErrAgentNotFound)
	}
	return a, nil
}

// Exists reports whether id is a known agent, without constructing an error.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// ByDepartment returns the (sorted) agent IDs in department.
func (r *Registry) ByDepartment(department string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byDepartment[department]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// BySeniorityAtLeast returns agent IDs whose seniority rank is >= rank.
func (r *Registry) BySeniorityAtLeast(rank int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, a := range r.agents {
		if a.Profile.SeniorityRank >= rank {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// All returns every agent ID in the registry, sorted for deterministic
// iteration order.
func (r *Registry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
