package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/beatwave/playsync/src/types"
)

// envelope wraps a snapshot with the originating instance ID so that a node
// can skip its own published messages.
type envelope struct {
	InstanceID string              `json:"instance_id"`
	UserID     string              `json:"user_id"`
	State      types.StateResponse `json:"state"`
}

// RedisRelay carries playback state snapshots between server instances via
// Redis pub/sub.
type RedisRelay struct {
	client     *redis.Client
	prefix     string
	instanceID string
	sink       StateSink
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewRedisRelay creates a relay that uses Redis pub/sub for cross-instance
// state propagation.
func NewRedisRelay(cfg *RedisConfig, sink StateSink, logger zerolog.Logger) *RedisRelay {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisRelay{
		client:     client,
		prefix:     cfg.Prefix,
		instanceID: uuid.New().String(),
		sink:       sink,
		logger:     logger.With().Str("component", "redis-relay").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the Redis playback channel and begins relaying
// snapshots.
func (r *RedisRelay) Start() error {
	if err := r.client.Ping(r.ctx).Err(); err != nil {
		return err
	}

	channel := r.prefix + "playback"
	sub := r.client.Subscribe(r.ctx, channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(r.ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.active = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.listen(sub)

	r.logger.Info().
		Str("instance_id", r.instanceID).
		Str("channel", channel).
		Msg("redis relay started")
	return nil
}

// PublishState sends a session snapshot to all other instances via Redis.
func (r *RedisRelay) PublishState(userID string, snap types.StateResponse) error {
	env := envelope{
		InstanceID: r.instanceID,
		UserID:     userID,
		State:      snap,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	channel := r.prefix + "playback"
	return r.client.Publish(r.ctx, channel, data).Err()
}

// Stop unsubscribes and closes the Redis connection.
func (r *RedisRelay) Stop() error {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	return r.client.Close()
}

// Available reports whether the relay is connected.
func (r *RedisRelay) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// listen reads snapshots from the Redis subscription and forwards them to
// the local coordinator.
func (r *RedisRelay) listen(sub *redis.PubSub) {
	defer r.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handleMessage(msg)
		case <-r.ctx.Done():
			return
		}
	}
}

// handleMessage decodes an envelope and forwards non-self snapshots to the
// sink.
func (r *RedisRelay) handleMessage(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}

	// Skip snapshots that originated from this instance.
	if env.InstanceID == r.instanceID {
		return
	}

	r.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("user_id", env.UserID).
		Uint64("revision", env.State.Revision).
		Msg("relaying snapshot from redis")

	r.sink.ApplyRemote(env.UserID, env.State)
}
