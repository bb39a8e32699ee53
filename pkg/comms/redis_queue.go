package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kpernyer/living-twin-simulation-sub000/pkg/clock"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/model"
	"github.com/kpernyer/living-twin-simulation-sub000/simlog"
)

// wireDeliveryTask is deliveryTask's JSON-serializable shape. SimTime has
// no exported constructor, so Due is carried as a duration since
// clock.Epoch and rebuilt with Epoch.Add on the reading side.
type wireDeliveryTask struct {
	Communication *model.Communication `json:"communication"`
	RecipientID   string               `json:"recipient_id"`
	DueSinceEpoch time.Duration        `json:"due_since_epoch"`
}

// RedisQueueConfig configures the mirror queue, grounded on
// orchestration/redis_task_queue.go's RedisTaskQueueConfig.
type RedisQueueConfig struct {
	QueueKey string
}

// RedisQueue mirrors delivery tasks onto a Redis list (LPUSH/BRPOP),
// providing the §4.5-named "Redis-list-backed queue ... for parity with
// the teacher's distributed pattern". It is an optional write-ahead
// shadow of the in-memory channel queue, not a replacement: Send still
// enqueues on the channel for simulated-time delivery, and a crashed
// process can replay un-acked entries from this list via Pop.
type RedisQueue struct {
	client *redis.Client
	key    string
	log    simlog.ComponentLogger
}

// NewRedisQueue connects to redisURL (a redis:// URL, parsed the way
// core/redis_client.go parses its RedisClientOptions.RedisURL), selects
// db, and returns a queue keyed by cfg.QueueKey (default
// "simkernel:delivery:queue").
func NewRedisQueue(ctx context.Context, redisURL string, db int, cfg RedisQueueConfig, log simlog.ComponentLogger) (*RedisQueue, error) {
	if log == nil {
		log = simlog.NoOp{}
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("comms: invalid redis url: %w", err)
	}
	if db >= 0 && db <= 15 {
		opt.DB = db
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("comms: connecting to redis: %w", err)
	}

	key := cfg.QueueKey
	if key == "" {
		key = "simkernel:delivery:queue"
	}
	return &RedisQueue{client: client, key: key, log: log.WithComponent("comms/redis_queue")}, nil
}

// Close releases the underlying Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// push LPUSHes one delivery task, best-effort: failures are logged, not
// returned, since the mirror queue never blocks a live Send.
func (q *RedisQueue) push(ctx context.Context, task deliveryTask) {
	wire := wireDeliveryTask{
		Communication: task.comm,
		RecipientID:   task.recipientID,
		DueSinceEpoch: task.due.Sub(clock.Epoch),
	}
	data, err := json.Marshal(wire)
	if err != nil {
		q.log.WarnWithContext(ctx, "failed to serialize mirrored delivery task", map[string]interface{}{
			"communication_id": task.comm.ID, "error": err.Error(),
		})
		return
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		q.log.WarnWithContext(ctx, "failed to mirror delivery task to redis", map[string]interface{}{
			"communication_id": task.comm.ID, "error": err.Error(),
		})
	}
}

// Pop blocks up to timeout for one mirrored task, used by an external
// recovery process replaying the queue after a crash. On timeout it
// returns a nil Communication and a nil error.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*model.Communication, string, clock.SimTime, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return nil, "", clock.SimTime{}, nil
	}
	if err != nil {
		return nil, "", clock.SimTime{}, fmt.Errorf("comms: dequeueing mirrored task: %w", err)
	}
	if len(result) < 2 {
		return nil, "", clock.SimTime{}, fmt.Errorf("comms: unexpected BRPOP result shape")
	}
	var wire wireDeliveryTask
	if err := json.Unmarshal([]byte(result[1]), &wire); err != nil {
		return nil, "", clock.SimTime{}, fmt.Errorf("comms: deserializing mirrored task: %w", err)
	}
	return wire.Communication, wire.RecipientID, clock.Epoch.Add(wire.DueSinceEpoch), nil
}

// SetMirrorQueue attaches a RedisQueue that every successful enqueue is
// shadow-written to, in addition to the live in-memory channel. Must be
// called before Start.
func (e *Engine) SetMirrorQueue(q *RedisQueue) {
	e.mirror = q
}
