package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	docKeyPrefix  = "flowsync:doc:"
	pathKeyPrefix = "flowsync:path:"
)

// Redis owns a client shared by the Redis document and path stores.
//
// Layout:
//   - flowsync:doc:<collection>  hash of id -> JSON document
//   - flowsync:path:<path>       string holding one JSON value
//
// Every write also publishes on a channel named after the key.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to url (redis://...) and verifies the connection.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", classifyRedis(err))
	}

	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client (for testing).
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return classifyRedis(r.client.Ping(ctx).Err())
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Documents returns the document store view.
func (r *Redis) Documents() *RedisDocuments {
	return &RedisDocuments{client: r.client}
}

// Paths returns the keyed-path store view.
func (r *Redis) Paths() *RedisPaths {
	return &RedisPaths{client: r.client}
}

// RedisDocuments implements DocumentStore.
type RedisDocuments struct {
	client *redis.Client
}

var _ DocumentStore = (*RedisDocuments)(nil)

func (s *RedisDocuments) Get(ctx context.Context, collection, id string) (Document, error) {
	data, err := s.client.HGet(ctx, docKeyPrefix+collection, id).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, classifyRedis(err))
	}
	return decodeDocument(data)
}

func (s *RedisDocuments) Put(ctx context.Context, collection, id string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}

	key := docKeyPrefix + collection
	if err := s.client.HSet(ctx, key, id, data).Err(); err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", collection, id, classifyRedis(err))
	}
	return s.publish(ctx, key, Change{Collection: collection, ID: id})
}

func (s *RedisDocuments) Delete(ctx context.Context, collection, id string) error {
	key := docKeyPrefix + collection
	n, err := s.client.HDel(ctx, key, id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, classifyRedis(err))
	}
	if n == 0 {
		return nil
	}
	return s.publish(ctx, key, Change{Collection: collection, ID: id, Deleted: true})
}

func (s *RedisDocuments) List(ctx context.Context, collection string) ([]Document, error) {
	values, err := s.client.HGetAll(ctx, docKeyPrefix+collection).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, classifyRedis(err))
	}

	docs := make([]Document, 0, len(values))
	for id, raw := range values {
		doc, err := decodeDocument([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, err)
		}
		docs = append(docs, doc)
	}
	sortDocuments(docs)
	return docs, nil
}

func (s *RedisDocuments) Subscribe(ctx context.Context, collection string, fn func(Change), onErr func(error)) (CancelFunc, error) {
	return subscribeRedis(ctx, s.client, docKeyPrefix+collection, func(payload string) {
		var change Change
		if err := json.Unmarshal([]byte(payload), &change); err != nil {
			return
		}
		fn(change)
	}, onErr, func() {
		fn(Change{Collection: collection, Resync: true})
	})
}

func (s *RedisDocuments) publish(ctx context.Context, channel string, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", classifyRedis(err))
	}
	return nil
}

// RedisPaths implements PathStore.
type RedisPaths struct {
	client *redis.Client
}

var _ PathStore = (*RedisPaths)(nil)

type pathMessage struct {
	Deleted bool            `json:"deleted"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (s *RedisPaths) Read(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, pathKeyPrefix+path).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, classifyRedis(err))
	}
	return json.RawMessage(data), nil
}

func (s *RedisPaths) Write(ctx context.Context, path string, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("refusing to write invalid JSON to %s", path)
	}

	key := pathKeyPrefix + path
	if err := s.client.Set(ctx, key, []byte(data), 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, classifyRedis(err))
	}
	return s.publish(ctx, key, pathMessage{Data: data})
}

func (s *RedisPaths) Delete(ctx context.Context, path string) error {
	key := pathKeyPrefix + path
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, classifyRedis(err))
	}
	if n == 0 {
		return nil
	}
	return s.publish(ctx, key, pathMessage{Deleted: true})
}

func (s *RedisPaths) Subscribe(ctx context.Context, path string, fn func(json.RawMessage)) (CancelFunc, error) {
	return subscribeRedis(ctx, s.client, pathKeyPrefix+path, func(payload string) {
		var msg pathMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return
		}
		if msg.Deleted {
			fn(nil)
			return
		}
		fn(msg.Data)
	}, nil, func() {
		// Deliver whatever is stored now in place of the missed messages.
		readCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		data, err := s.Read(readCtx, path)
		switch {
		case err == nil:
			fn(data)
		case errors.Is(err, ErrNotFound):
			fn(nil)
		}
	})
}

func (s *RedisPaths) publish(ctx context.Context, channel string, msg pathMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", classifyRedis(err))
	}
	return nil
}

// subscribeRedis waits for the SUBSCRIBE confirmation, then delivers payloads
// on a goroutine until the returned CancelFunc closes the pubsub. go-redis
// re-dials and resubscribes after a read error; onErr hears about the
// outage and onResync about the recovery, since messages published in
// between are lost.
func subscribeRedis(ctx context.Context, client *redis.Client, channel string, handle func(string), onErr func(error), onResync func()) (CancelFunc, error) {
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, classifyRedis(err))
	}

	subCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		interrupted := false
		for {
			msg, err := pubsub.Receive(subCtx)
			if subCtx.Err() != nil {
				return
			}
			if err != nil {
				if !interrupted {
					interrupted = true
					if onErr != nil {
						onErr(fmt.Errorf("%w: subscription to %s interrupted: %v", ErrUnavailable, channel, err))
					}
				}
				if errors.Is(err, redis.ErrClosed) {
					return
				}
				select {
				case <-subCtx.Done():
					return
				case <-time.After(resubscribeDelay):
				}
				continue
			}

			switch m := msg.(type) {
			case *redis.Message:
				handle(m.Payload)
			case *redis.Subscription:
				if interrupted && m.Kind == "subscribe" {
					interrupted = false
					if onResync != nil {
						onResync()
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
			<-done
		})
	}, nil
}

// classifyRedis maps go-redis errors onto the package sentinels.
func classifyRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		msg := replyErr.Error()
		for _, prefix := range []string{"NOAUTH", "NOPERM", "WRONGPASS"} {
			if strings.HasPrefix(msg, prefix) {
				return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
			}
		}
		return err
	}

	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
