package events

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"scribeflow/internal/config"
	"scribeflow/internal/redis"
	"scribeflow/internal/store"
)

func TestRedisPublisherDisabled(t *testing.T) {
	if p := NewRedisPublisher(nil, "a"); p != nil {
		t.Fatalf("expected nil publisher without redis")
	}
	var p *RedisPublisher
	p.Send(Event{}) // must not panic
	p.Close()
	if err := p.Listen(context.Background(), func(string, Event) {}); err != nil {
		t.Fatalf("Listen on nil publisher: %v", err)
	}
}

func TestRedisPublisherSendDoesNotWaitOnRedis(t *testing.T) {
	// No run loop drains the queue, so a synchronous publish would hang here.
	p := &RedisPublisher{source: "a", queue: make(chan []byte, 1)}

	done := make(chan struct{})
	go func() {
		p.Send(Event{Seq: 1, Kind: store.ChangeJobs, JobID: "job-1"})
		p.Send(Event{Seq: 2, Kind: store.ChangeJobs, JobID: "job-1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Send blocked")
	}

	if len(p.queue) != 1 {
		t.Fatalf("expected one queued payload, got %d", len(p.queue))
	}
	var msg redisMessage
	if err := json.Unmarshal(<-p.queue, &msg); err != nil {
		t.Fatalf("decode queued payload: %v", err)
	}
	if msg.Source != "a" || msg.Event.Seq != 1 {
		t.Fatalf("unexpected queued message %+v", msg)
	}
}

func TestRedisPublisherRoundTrip(t *testing.T) {
	client := newRedisClient(t)
	defer client.Close()

	local := NewRedisPublisher(client, "instance-a")
	peer := NewRedisPublisher(client, "instance-b")
	defer local.Close()
	defer peer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Event, 2)
	if err := peer.Listen(ctx, func(source string, e Event) {
		if source == "instance-a" {
			got <- e
		}
	}); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	peer.Send(Event{Seq: 1, Kind: store.ChangeJobs, JobID: "own"})
	local.Send(Event{Seq: 7, Kind: store.ChangeSummary, JobID: "job-1"})
	select {
	case e := <-got:
		if e.Seq != 7 || e.JobID != "job-1" || e.Kind != store.ChangeSummary {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("did not receive pubsub message")
	}
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed event tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Enabled: true, Host: host, Port: port}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	return client
}
