// SPDX-License-Identifier: MPL-2.0

package queue

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/funcbox/funcbox/internal/host"
	"github.com/funcbox/funcbox/internal/sandbox"
	"github.com/funcbox/funcbox/internal/testutil"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// checkTestcontainersAvailable reports whether a container provider can be reached.
func checkTestcontainersAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	return provider.Health(context.Background()) == nil
}

func startRedis(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if !checkTestcontainersAvailable() {
		t.Skip("skipping redis integration test: testcontainers provider not available")
	}

	sem := testutil.ContainerSemaphore()
	sem <- struct{}{}
	t.Cleanup(func() { <-sem })

	ctx := t.Context()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, c)
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}

	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return endpoint
}

func TestWorker_Integration(t *testing.T) {
	addr := startRedis(t)

	engine, err := sandbox.New(sandbox.Options{})
	if err != nil {
		t.Fatalf("sandbox.New() error: %v", err)
	}
	w := New(Config{
		Address:     addr,
		Queue:       "test:requests",
		PollTimeout: time.Second,
		ResponseTTL: time.Minute,
	}, host.New(host.Config{Executor: engine}), log.New(io.Discard))
	if err := w.Start(t.Context()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer testutil.MustStop(t, w)

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := t.Context()
	requests := []string{
		`{"executionId":"w1","kind":"resolver","mainFunction":{"code":"function main(a) { console.log('x'); return a.v + 1; }","handlerName":"main"},"args":{"v":1}}`,
		`{broken`,
	}
	for _, r := range requests {
		if err := rdb.LPush(ctx, "test:requests", r).Err(); err != nil {
			t.Fatalf("LPUSH error: %v", err)
		}
	}

	key := ResponseKey(DefaultResponsePrefix, "w1")
	msgs := waitForList(t, rdb, key, 2)
	var last map[string]any
	if err := json.Unmarshal([]byte(msgs[len(msgs)-1]), &last); err != nil {
		t.Fatalf("bad message: %v", err)
	}
	if last["type"] != "result" || last["outcome"] != "success" {
		t.Errorf("last message = %v, want a success result", last)
	}
	if ttl := rdb.TTL(ctx, key).Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL(%s) = %v, want within a minute", key, ttl)
	}

	errs := waitForList(t, rdb, ResponseKey(DefaultResponsePrefix, ""), 1)
	var rejection map[string]any
	if err := json.Unmarshal([]byte(errs[0]), &rejection); err != nil || rejection["type"] != "error" {
		t.Errorf("rejection = %s (%v)", errs[0], err)
	}
}

func TestWorker_KillWhileSlotsBusy(t *testing.T) {
	addr := startRedis(t)

	engine, err := sandbox.New(sandbox.Options{})
	if err != nil {
		t.Fatalf("sandbox.New() error: %v", err)
	}
	h := host.New(host.Config{Executor: engine})
	w := New(Config{
		Address:     addr,
		Queue:       "busy:requests",
		PollTimeout: time.Second,
		Concurrency: 1,
	}, h, log.New(io.Discard))
	if err := w.Start(t.Context()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer testutil.MustStop(t, w)

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := t.Context()
	long := `{"executionId":"busy","kind":"action","timeoutMs":60000,"mainFunction":{"code":"function main() { for (;;) {} }","handlerName":"main"}}`
	if err := rdb.LPush(ctx, "busy:requests", long).Err(); err != nil {
		t.Fatalf("LPUSH error: %v", err)
	}
	testutil.EventuallyWithin(t, 30*time.Second, func() bool {
		return h.InFlight() == 1
	}, "long request admitted")

	if err := rdb.LPush(ctx, KillQueue("busy:requests"), `{"type":"kill","executionId":"busy"}`).Err(); err != nil {
		t.Fatalf("LPUSH kill error: %v", err)
	}

	msgs := waitForList(t, rdb, ResponseKey(DefaultResponsePrefix, "busy"), 1)
	var res map[string]any
	if err := json.Unmarshal([]byte(msgs[len(msgs)-1]), &res); err != nil {
		t.Fatalf("bad message: %v", err)
	}
	if res["type"] != "result" || res["outcome"] != "failure" || res["errorKind"] != "killedExecution" {
		t.Errorf("result = %v, want a killedExecution failure", res)
	}

	// Execute requests are not taken from the kill list.
	misplaced := `{"executionId":"stray","kind":"action","mainFunction":{"code":"function main() {}","handlerName":"main"}}`
	if err := rdb.LPush(ctx, KillQueue("busy:requests"), misplaced).Err(); err != nil {
		t.Fatalf("LPUSH error: %v", err)
	}
	errs := waitForList(t, rdb, ResponseKey(DefaultResponsePrefix, "stray"), 1)
	var rejection map[string]any
	if err := json.Unmarshal([]byte(errs[0]), &rejection); err != nil || rejection["type"] != "error" {
		t.Errorf("rejection = %s (%v)", errs[0], err)
	}
}

func waitForList(t *testing.T, rdb *redis.Client, key string, n int) []string {
	t.Helper()

	var msgs []string
	testutil.EventuallyWithin(t, 30*time.Second, func() bool {
		var err error
		msgs, err = rdb.LRange(t.Context(), key, 0, -1).Result()
		if err != nil {
			t.Fatalf("LRANGE %s error: %v", key, err)
		}
		return len(msgs) >= n
	}, "list "+key+" fills up")
	return msgs
}
