// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/funcbox/funcbox/internal/protocol"
	"github.com/funcbox/funcbox/internal/sandbox"
)

// recorder is an Encoder that keeps every message in write order.
type recorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recorder) Encode(msg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) messages() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.msgs...)
}

// forID returns the messages that carry executionID, in order.
func (r *recorder) forID(executionID string) []any {
	var out []any
	for _, m := range r.messages() {
		switch v := m.(type) {
		case *protocol.Output:
			if v.ExecutionID == executionID {
				out = append(out, v)
			}
		case *protocol.Result:
			if v.ExecutionID == executionID {
				out = append(out, v)
			}
		case *protocol.Error:
			if v.ExecutionID == executionID {
				out = append(out, v)
			}
		}
	}
	return out
}

func (r *recorder) errors() []*protocol.Error {
	var out []*protocol.Error
	for _, m := range r.messages() {
		if e, ok := m.(*protocol.Error); ok {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) results(executionID string) []*protocol.Result {
	var out []*protocol.Result
	for _, m := range r.forID(executionID) {
		if res, ok := m.(*protocol.Result); ok {
			out = append(out, res)
		}
	}
	return out
}

func newTestHost(t *testing.T, limit int) *Host {
	t.Helper()

	engine, err := sandbox.New(sandbox.Options{AbandonAfter: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("sandbox.New() error: %v", err)
	}
	return New(Config{Executor: engine, ConcurrencyLimit: limit})
}

func serve(t *testing.T, h *Host, lines ...string) *recorder {
	t.Helper()

	dec, err := protocol.NewDecoder(protocol.CodecJSON, strings.NewReader(strings.Join(lines, "\n")+"\n"))
	if err != nil {
		t.Fatalf("NewDecoder() error: %v", err)
	}
	rec := &recorder{}
	if err := h.Serve(t.Context(), dec, rec); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	return rec
}

func request(t *testing.T, id string, kind protocol.FunctionKind, code string, extra map[string]any) string {
	t.Helper()

	msg := map[string]any{
		"executionId":  id,
		"kind":         kind,
		"mainFunction": map[string]any{"code": code, "handlerName": "main"},
	}
	for k, v := range extra {
		msg[k] = v
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	return string(data)
}

func TestServe_OneResultAlwaysLast(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, 2)
	rec := serve(t, h,
		request(t, "a", protocol.KindAction, `function main() { console.log("a1"); console.warn("a2"); return {status: "ok"}; }`, nil),
		request(t, "b", protocol.KindResolver, `function main(args) { console.log("b1"); return args.n * 2; }`, map[string]any{"args": map[string]any{"n": 21}}),
	)

	for _, id := range []string{"a", "b"} {
		msgs := rec.forID(id)
		if len(msgs) == 0 {
			t.Fatalf("no messages for %s", id)
		}
		if n := len(rec.results(id)); n != 1 {
			t.Fatalf("%s: got %d results, want 1", id, n)
		}
		if _, ok := msgs[len(msgs)-1].(*protocol.Result); !ok {
			t.Errorf("%s: last message is %T, want *protocol.Result", id, msgs[len(msgs)-1])
		}
	}

	a := rec.forID("a")
	if len(a) != 3 {
		t.Fatalf("a: got %d messages, want 2 outputs and a result", len(a))
	}
	if out := a[1].(*protocol.Output); out.Line != "a2" || out.Level != "warn" || out.Stream != "stderr" {
		t.Errorf("a: second output = %+v", out)
	}
	if res := rec.results("b")[0]; res.Outcome != protocol.OutcomeSuccess {
		t.Errorf("b: outcome = %s (%s), want success", res.Outcome, res.Message)
	}
	if h.InFlight() != 0 {
		t.Errorf("InFlight() = %d after Serve returned", h.InFlight())
	}
}

func TestServe_ResultMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		kind        protocol.FunctionKind
		code        string
		extra       map[string]any
		wantOutcome protocol.Outcome
		wantErrKind protocol.ErrorKind
		wantMessage string
	}{
		{
			name:        "syntax error",
			kind:        protocol.KindAction,
			code:        `function main( {`,
			wantOutcome: protocol.OutcomeFailure,
			wantErrKind: protocol.ErrorKindLoad,
		},
		{
			name:        "thrown error",
			kind:        protocol.KindAction,
			code:        `function main() { throw new Error("boom"); }`,
			wantOutcome: protocol.OutcomeFailure,
			wantErrKind: protocol.ErrorKindUserCode,
			wantMessage: "boom",
		},
		{
			name:        "wrong return shape",
			kind:        protocol.KindQualification,
			code:        `function main() { return "success"; }`,
			wantOutcome: protocol.OutcomeFailure,
			wantErrKind: protocol.ErrorKindInvalidReturnType,
		},
		{
			name:        "timeout",
			kind:        protocol.KindAction,
			code:        `function main() { for (;;) {} }`,
			extra:       map[string]any{"timeoutMs": 100},
			wantOutcome: protocol.OutcomeTimeout,
		},
		{
			name:        "unknown kind",
			kind:        "bogus",
			code:        `function main() {}`,
			wantOutcome: protocol.OutcomeFailure,
			wantErrKind: protocol.ErrorKindInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := serve(t, newTestHost(t, 1), request(t, "x", tt.kind, tt.code, tt.extra))
			results := rec.results("x")
			if len(results) != 1 {
				t.Fatalf("got %d results, want 1", len(results))
			}
			res := results[0]
			if res.Outcome != tt.wantOutcome || res.ErrorKind != tt.wantErrKind {
				t.Errorf("result = %s/%s (%s), want %s/%s", res.Outcome, res.ErrorKind, res.Message, tt.wantOutcome, tt.wantErrKind)
			}
			if !strings.Contains(res.Message, tt.wantMessage) {
				t.Errorf("Message = %q, want it to contain %q", res.Message, tt.wantMessage)
			}
		})
	}
}

func TestServe_RejectionsAreErrorMessages(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestHost(t, 1),
		`{not json`,
		`{"kind":"action","mainFunction":{"code":"function main(){}","handlerName":"main"}}`,
		`{"type":"kill","executionId":"ghost"}`,
	)

	errs := rec.errors()
	if len(errs) != 3 {
		t.Fatalf("got %d error messages, want 3: %+v", len(errs), rec.messages())
	}
	if errs[2].ExecutionID != "ghost" || !strings.Contains(errs[2].Message, ErrUnknownExecution.Error()) {
		t.Errorf("kill rejection = %+v", errs[2])
	}
	for _, m := range rec.messages() {
		if _, ok := m.(*protocol.Result); ok {
			t.Errorf("unexpected result %+v", m)
		}
	}
}

func TestServe_DuplicateAndKill(t *testing.T) {
	t.Parallel()

	loop := request(t, "dup", protocol.KindAction, `function main() { for (;;) {} }`, map[string]any{"timeoutMs": 30000})
	start := time.Now()
	rec := serve(t, newTestHost(t, 1), loop, loop, `{"type":"kill","executionId":"dup"}`)

	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Serve() took %v, kill did not stop the execution", elapsed)
	}

	msgs := rec.forID("dup")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages for dup, want an error and a result: %+v", len(msgs), msgs)
	}
	if e, ok := msgs[0].(*protocol.Error); !ok || !strings.Contains(e.Message, ErrDuplicateExecution.Error()) {
		t.Errorf("first message = %+v, want duplicate rejection", msgs[0])
	}
	res, ok := msgs[1].(*protocol.Result)
	if !ok {
		t.Fatalf("last message is %T, want *protocol.Result", msgs[1])
	}
	if res.Outcome != protocol.OutcomeFailure || res.ErrorKind != protocol.ErrorKindKilled {
		t.Errorf("result = %s/%s, want failure/killedExecution", res.Outcome, res.ErrorKind)
	}
}

func TestServe_RedactsPayload(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestHost(t, 1), request(t, "r", protocol.KindResolver,
		`function main(args) { console.log("key=" + args.key); return {token: args.key}; }`,
		map[string]any{"args": map[string]any{"key": "s3cr3t"}, "sensitiveStrings": []string{"s3cr3t"}},
	))

	data, err := json.Marshal(rec.forID("r"))
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	if strings.Contains(string(data), "s3cr3t") {
		t.Errorf("secret leaked: %s", data)
	}
	if !strings.Contains(string(data), `"token":"[redacted]"`) {
		t.Errorf("payload not redacted: %s", data)
	}
}

func TestServe_ConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var lines []string
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		lines = append(lines, request(t, id, protocol.KindResolver, `function main() { return 1; }`, nil))
	}
	rec := serve(t, newTestHost(t, 1), lines...)

	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		results := rec.results(id)
		if len(results) != 1 || results[0].Outcome != protocol.OutcomeSuccess {
			t.Errorf("%s: results = %+v", id, results)
		}
	}
}

func TestServe_ContextCancelKillsExecutions(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, 1)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	dec, err := protocol.NewDecoder(protocol.CodecJSON, strings.NewReader(
		request(t, "slow", protocol.KindAction, `function main() { for (;;) {} }`, map[string]any{"timeoutMs": 30000})+"\n"))
	if err != nil {
		t.Fatalf("NewDecoder() error: %v", err)
	}

	time.AfterFunc(200*time.Millisecond, cancel)
	rec := &recorder{}
	if err := h.Serve(ctx, dec, rec); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}

	results := rec.results("slow")
	if len(results) != 1 || results[0].Outcome != protocol.OutcomeFailure {
		t.Fatalf("results = %+v, want one failure", results)
	}
}

func TestExecute_SingleRequest(t *testing.T) {
	t.Parallel()

	h := newTestHost(t, 1)
	rec := &recorder{}
	req := &protocol.Request{
		ExecutionID:  "one",
		Kind:         protocol.KindValidation,
		MainFunction: &protocol.FunctionUnit{Code: `function main() { return {valid: true}; }`, HandlerName: "main"},
	}

	res, err := h.Execute(t.Context(), req, rec)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Outcome != protocol.OutcomeSuccess {
		t.Errorf("Outcome = %s (%s), want success", res.Outcome, res.Message)
	}
	if msgs := rec.messages(); len(msgs) != 1 || msgs[0] != res {
		t.Errorf("messages = %+v, want only the result", msgs)
	}

	_, err = h.Execute(t.Context(), &protocol.Request{Type: protocol.TypeKill, ExecutionID: "one"}, rec)
	if !errors.Is(err, ErrRejected) {
		t.Errorf("Execute(kill) error = %v, want ErrRejected", err)
	}

	_, err = h.Execute(t.Context(), &protocol.Request{Kind: protocol.KindAction}, rec)
	if !errors.Is(err, protocol.ErrMissingExecutionID) {
		t.Errorf("Execute(no id) error = %v, want ErrMissingExecutionID", err)
	}
}

func TestHost_KillUnknown(t *testing.T) {
	t.Parallel()

	if newTestHost(t, 1).Kill("nope") {
		t.Error("Kill() = true for an unknown id")
	}
}
