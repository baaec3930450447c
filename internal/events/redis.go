package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"scribeflow/internal/redis"
)

const (
	redisChannel        = "scribeflow:changes"
	redisQueueSize      = 256
	redisPublishTimeout = 2 * time.Second
)

// RedisPublisher forwards events over redis pub/sub so other processes can
// follow this instance's store. Only notifications travel; no state is kept.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	source  string

	mu     sync.Mutex
	closed bool
	queue  chan []byte
	done   chan struct{}
}

type redisMessage struct {
	Source string `json:"source"`
	Event  Event  `json:"event"`
}

// NewRedisPublisher returns nil when client is disabled.
func NewRedisPublisher(client *redis.Client, source string) *RedisPublisher {
	if !client.Enabled() {
		return nil
	}
	p := &RedisPublisher{
		client:  client,
		channel: redisChannel,
		source:  source,
		queue:   make(chan []byte, redisQueueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Send queues event for publishing and returns without waiting on redis.
// Events are dropped when the queue is full; the local feed is unaffected.
func (p *RedisPublisher) Send(event Event) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(redisMessage{Source: p.source, Event: event})
	if err != nil {
		log.Printf("events: marshal redis message: %v", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- payload:
	default:
		log.Printf("events: redis queue full, dropping event %d", event.Seq)
	}
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for payload := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
		if err := p.client.Publish(ctx, p.channel, payload); err != nil {
			log.Printf("events: publish redis message: %v", err)
		}
		cancel()
	}
}

// Close flushes queued events and stops the publishing goroutine. Later
// sends are ignored.
func (p *RedisPublisher) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}

// Listen hands events published by other sources to fn until ctx is done.
func (p *RedisPublisher) Listen(ctx context.Context, fn func(source string, event Event)) error {
	if p == nil || fn == nil {
		return nil
	}
	return p.client.Subscribe(ctx, p.channel, func(payload string) {
		var msg redisMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			log.Printf("events: decode redis message: %v", err)
			return
		}
		if msg.Source == p.source {
			return
		}
		fn(msg.Source, msg.Event)
	})
}
