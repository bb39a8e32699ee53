// Package persistence implements the optional Redis-backed
// SimulationState snapshot store named in §6: a way to save and restore
// an organization's Agent Registry across process restarts, grounded on
// gomind's core/redis_client.go (RedisClient: URL parsing, DB isolation,
// namespacing, Ping-on-connect) reused here for snapshot bytes instead of
// rate-limit counters.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/registry"
	"github.com/kpernyer/living-twin-simulation-sub000/simlog"
)

// Snapshot is the persisted state of one organization's simulation: enough
// to reconstruct its Agent Registry via registry.Load. Communications,
// responses, and escalation state are not persisted — §1 scopes this
// simulator to live discrete-event runs, so a restored organization
// resumes agent state but starts a fresh cascade history.
type Snapshot struct {
	OrgID      string              `json:"org_id"`
	SavedAt    time.Time           `json:"saved_at"`
	RandomSeed int64               `json:"random_seed"`
	Agents     []registry.Snapshot `json:"agents"`
}

// Store is a namespaced Redis client scoped to SimulationState snapshots.
type Store struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	log       simlog.ComponentLogger
}

// Config configures a Store, mirroring simconfig.PersistenceConfig.
type Config struct {
	RedisURL  string
	DB        int
	Namespace string
	TTL       time.Duration
}

// New connects to Redis and returns a Store. The connection is tested
// with Ping, matching core/redis_client.go's connect-time health check.
func New(ctx context.Context, cfg Config, log simlog.ComponentLogger) (*Store, error) {
	if log == nil {
		log = simlog.NoOp{}
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("persistence: invalid redis url: %w", err)
	}
	if cfg.DB >= 0 && cfg.DB <= 15 {
		opt.DB = cfg.DB
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("persistence: connecting to redis: %w", err)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "simkernel:snapshot"
	}
	return &Store{client: client, namespace: namespace, ttl: cfg.TTL, log: log.WithComponent("persistence")}, nil
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(orgID string) string {
	return fmt.Sprintf("%s:%s", s.namespace, orgID)
}

// Save serializes and stores a Snapshot, overwriting any prior snapshot
// for the same organization.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persistence: serializing snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snap.OrgID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("persistence: writing snapshot: %w", err)
	}
	s.log.InfoWithContext(ctx, "snapshot saved", map[string]interface{}{
		"org_id": snap.OrgID, "agents": len(snap.Agents),
	})
	return nil
}

// Load retrieves and deserializes the Snapshot for orgID. Returns
// (Snapshot{}, false, nil) if none is stored.
func (s *Store) Load(ctx context.Context, orgID string) (Snapshot, bool, error) {
	data, err := s.client.Get(ctx, s.key(orgID)).Bytes()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("persistence: reading snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("persistence: deserializing snapshot: %w", err)
	}
	return snap, true, nil
}

// Delete removes a stored snapshot, if any.
func (s *Store) Delete(ctx context.Context, orgID string) error {
	return s.client.Del(ctx, s.key(orgID)).Err()
}

// AgentsFromSnapshot reconstructs *registry.Agent values from a Snapshot,
// suitable for passing to Kernel.Start to resume an organization. It
// restores profile, personality, workload, stress and satisfaction; the
// snapshot's relationships and recent memory are not restored.
func AgentsFromSnapshot(snap Snapshot, memoryWindow int) []*registry.Agent {
	agents := make([]*registry.Agent, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		agent := registry.New(a.ID, a.Profile, a.Personality, a.CurrentWorkload, a.StressLevel, a.Satisfaction, memoryWindow)
		agents = append(agents, agent)
	}
	return agents
}
