// SPDX-License-Identifier: MPL-2.0

package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/funcbox/funcbox/internal/core/serverbase"
	"github.com/funcbox/funcbox/internal/host"
	"github.com/funcbox/funcbox/internal/protocol"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultAddress is the Redis server used when none is configured.
	DefaultAddress = "127.0.0.1:6379"
	// DefaultQueue is the list requests are popped from.
	DefaultQueue = "funcbox:requests"
	// DefaultResponsePrefix namespaces response lists.
	DefaultResponsePrefix = "funcbox"
	// DefaultResponseTTL is how long a response list survives its last write.
	DefaultResponseTTL = time.Hour
	// DefaultPollTimeout is how long one BRPOP blocks.
	DefaultPollTimeout = 5 * time.Second
	// KillQueueSuffix names the list of kill messages next to the request list.
	KillQueueSuffix = ":kill"

	// busyPollTimeout bounds a BRPOP on the kill list while every slot is
	// taken, so a freed slot is noticed soon.
	busyPollTimeout = 500 * time.Millisecond

	writeTimeout = 5 * time.Second
)

type (
	// Config holds immutable configuration for the Worker.
	Config struct {
		Address        string
		Password       string
		DB             int
		Queue          string
		ResponsePrefix string
		ResponseTTL    time.Duration
		PollTimeout    time.Duration
		// Concurrency bounds requests popped but not finished (default: NumCPU).
		Concurrency int
	}

	// Worker consumes the request list. Kill messages are read from the kill
	// list even while every slot runs an execution.
	// A Worker instance is single-use: once stopped or failed, create a new instance.
	Worker struct {
		*serverbase.Base

		cfg    Config
		rdb    *redis.Client
		host   *host.Host
		logger *log.Logger
		slots  chan struct{}
	}

	// listEncoder appends messages to the response list of their execution.
	listEncoder struct {
		rdb    *redis.Client
		prefix string
		ttl    time.Duration
	}
)

// New creates a Worker that dispatches requests to h.
func New(cfg Config, h *host.Host, logger *log.Logger) *Worker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default().WithPrefix("worker")
	}

	w := &Worker{
		cfg:    cfg,
		host:   h,
		logger: logger,
		slots:  make(chan struct{}, cfg.Concurrency),
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
			// BRPOP blocks longer than the default read timeout.
			ReadTimeout: cfg.PollTimeout + writeTimeout,
		}),
	}
	w.Base = serverbase.NewBase("worker", serverbase.Hooks{
		Listen: w.connect,
		Serve:  w.serve,
	}, serverbase.WithLogger(logger))
	return w
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.ResponsePrefix == "" {
		c.ResponsePrefix = DefaultResponsePrefix
	}
	if c.ResponseTTL <= 0 {
		c.ResponseTTL = DefaultResponseTTL
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
	return c
}

// ResponseKey is the list holding the messages of an execution. Messages
// without an execution id go to the errors list.
func ResponseKey(prefix, executionID string) string {
	if executionID == "" {
		return prefix + ":errors"
	}
	return prefix + ":responses:" + executionID
}

// KillQueue is the list kill messages for queue are read from.
func KillQueue(queue string) string {
	return queue + KillQueueSuffix
}

// pollKeys returns the lists to pop from, highest priority first, and how
// long to block. Without a free slot only kills are read.
func (w *Worker) pollKeys(slotFree bool) ([]string, time.Duration) {
	kill := KillQueue(w.cfg.Queue)
	if !slotFree {
		return []string{kill}, min(w.cfg.PollTimeout, busyPollTimeout)
	}
	return []string{kill, w.cfg.Queue}, w.cfg.PollTimeout
}

func (w *Worker) connect(ctx context.Context) (string, error) {
	if err := w.rdb.Ping(ctx).Err(); err != nil {
		return "", fmt.Errorf("connect to redis at %s: %w", w.cfg.Address, err)
	}
	return w.cfg.Address, nil
}

func (w *Worker) serve(ctx context.Context) error {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		if err := w.rdb.Close(); err != nil {
			w.logger.Warn("close redis client", "error", err)
		}
	}()

	enc := &listEncoder{rdb: w.rdb, prefix: w.cfg.ResponsePrefix, ttl: w.cfg.ResponseTTL}
	w.logger.Info("waiting for requests", "queue", w.cfg.Queue, "killQueue", KillQueue(w.cfg.Queue))

	for {
		if ctx.Err() != nil {
			return nil
		}
		reserved := false
		select {
		case w.slots <- struct{}{}:
			reserved = true
		default:
		}
		release := func() {
			if reserved {
				<-w.slots
				reserved = false
			}
		}

		keys, timeout := w.pollKeys(reserved)
		result, err := w.rdb.BRPop(ctx, timeout, keys...).Result()
		if err != nil {
			release()
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case ctx.Err() != nil:
				return nil
			default:
				w.logger.Error("error reading from queue", "error", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return nil
				}
				continue
			}
		}

		// result[0] is the list key, result[1] is the message.
		req, ok := w.accept(result[0], result[1], enc)
		if !ok || !reserved {
			release()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer release()
			if _, err := w.host.Execute(ctx, req, enc); err != nil {
				w.logger.Debug("request rejected", "executionId", req.ExecutionID, "error", err)
			}
		}()
	}
}

// accept handles every message that needs no slot: undecodable entries,
// kills and execute requests pushed to the kill list. It returns the
// execute request left to run.
func (w *Worker) accept(key, raw string, enc *listEncoder) (*protocol.Request, bool) {
	req, err := decodeRequest(raw)
	if err != nil {
		var decErr *protocol.DecodeError
		id := ""
		if errors.As(err, &decErr) {
			id = decErr.ExecutionID
		}
		w.logger.Warn("rejecting message", "executionId", id, "error", err)
		w.push(enc, protocol.NewError(id, err.Error()))
		return nil, false
	}

	if req.IsKill() {
		switch {
		case req.ExecutionID == "":
			w.push(enc, protocol.NewError("", protocol.ErrMissingExecutionID.Error()))
		case !w.host.Kill(req.ExecutionID):
			w.push(enc, protocol.NewError(req.ExecutionID, host.ErrUnknownExecution.Error()))
		}
		return nil, false
	}

	if key == KillQueue(w.cfg.Queue) {
		w.logger.Warn("rejecting execute request on the kill list", "executionId", req.ExecutionID)
		w.push(enc, protocol.NewError(req.ExecutionID, "only kill messages are accepted on "+key))
		return nil, false
	}
	return req, true
}

func (w *Worker) push(enc *listEncoder, msg any) {
	if err := enc.Encode(msg); err != nil {
		w.logger.Error("failed to write response", "error", err)
	}
}

// decodeRequest parses one queue entry. Entries may span lines.
func decodeRequest(raw string) (*protocol.Request, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(raw)); err != nil {
		return nil, &protocol.DecodeError{Err: err}
	}
	dec, err := protocol.NewDecoder(protocol.CodecJSON, strings.NewReader(compact.String()))
	if err != nil {
		return nil, err
	}
	return dec.Decode()
}

// Encode appends msg to its execution's list and refreshes the TTL.
func (e *listEncoder) Encode(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	key := ResponseKey(e.prefix, executionIDOf(msg))

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err = e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, e.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push to %s: %w", key, err)
	}
	return nil
}

func executionIDOf(msg any) string {
	switch m := msg.(type) {
	case *protocol.Output:
		return m.ExecutionID
	case *protocol.Result:
		return m.ExecutionID
	case *protocol.Error:
		return m.ExecutionID
	default:
		return ""
	}
}
