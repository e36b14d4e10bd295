// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/funcbox/funcbox/internal/builder"

	"github.com/fxamacker/cbor/v2"
)

func validRequest() Request {
	return Request{
		ExecutionID:  "exec-1",
		Kind:         KindQualification,
		MainFunction: &FunctionUnit{Code: "function main() {}", HandlerName: "main"},
	}
}

func TestRequest_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{"valid", func(*Request) {}, nil},
		{"missing id", func(r *Request) { r.ExecutionID = " " }, ErrMissingExecutionID},
		{"unknown kind", func(r *Request) { r.Kind = "lambda" }, ErrInvalidFunctionKind},
		{"missing main", func(r *Request) { r.MainFunction = nil }, ErrInvalidRequest},
		{"missing handler", func(r *Request) { r.MainFunction.HandlerName = "" }, ErrInvalidRequest},
		{"bad before", func(r *Request) { r.BeforeFunctions = []BeforeFunction{{Code: "x"}} }, ErrInvalidRequest},
		{"unknown type", func(r *Request) { r.Type = "pause" }, ErrInvalidMessageType},
		{"kill needs only id", func(r *Request) { *r = Request{Type: TypeKill, ExecutionID: "exec-1"} }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := validRequest()
			tt.mutate(&r)
			err := r.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Validate() error = %v, want it to wrap ErrInvalidRequest", err)
			}
		})
	}
}

func TestRequest_Timeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ms   int64
		want time.Duration
	}{
		{"milliseconds", 1500, 1500 * time.Millisecond},
		{"negative means default", -1, 0},
		{"largest exact value", maxTimeoutMs, time.Duration(maxTimeoutMs) * time.Millisecond},
		{"saturates past the range", maxTimeoutMs + 1, time.Duration(math.MaxInt64)},
		{"saturates at max int64", math.MaxInt64, time.Duration(math.MaxInt64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := Request{TimeoutMs: tt.ms}
			if got := r.Timeout(); got != tt.want {
				t.Errorf("Timeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJSONDecoder(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`{"executionId":"a","kind":"resolver","mainFunction":{"code":"c","handlerName":"h"},"args":{"x":1}}`,
		``,
		`{"executionId":"b", not json`,
		`{"executionId":7}`,
		`{"type":"kill","executionId":"a"}`,
	}, "\n")

	dec, err := NewDecoder(CodecJSON, strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewDecoder() error: %v", err)
	}

	first, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if first.ExecutionID != "a" || first.Kind != KindResolver || string(first.Args) != `{"x":1}` {
		t.Errorf("first = %+v", first)
	}

	_, err = dec.Decode()
	var decErr *DecodeError
	if !errors.As(err, &decErr) || !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("Decode() error = %v, want DecodeError", err)
	}

	_, err = dec.Decode()
	if !errors.As(err, &decErr) {
		t.Fatalf("Decode() error = %v, want DecodeError for a numeric id", err)
	}

	kill, err := dec.Decode()
	if err != nil || !kill.IsKill() {
		t.Fatalf("Decode() = %+v, %v, want kill", kill, err)
	}

	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Errorf("Decode() error = %v, want io.EOF", err)
	}
}

func TestPeekExecutionID(t *testing.T) {
	t.Parallel()

	if got := peekExecutionID([]byte(`{"executionId":"x","kind":5}`)); got != "x" {
		t.Errorf("peekExecutionID() = %q, want x", got)
	}
	if got := peekExecutionID([]byte(`not json`)); got != "" {
		t.Errorf("peekExecutionID() = %q, want empty", got)
	}
}

func TestJSONEncoder_WholeLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc, err := NewEncoder(CodecJSON, &buf)
	if err != nil {
		t.Fatalf("NewEncoder() error: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = enc.Encode(NewOutput("exec", "stdout", "info", strings.Repeat("x", i*100), time.Unix(0, 0)))
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 50 {
		t.Fatalf("got %d lines, want 50", len(lines))
	}
	for _, line := range lines {
		var out Output
		if err := json.Unmarshal([]byte(line), &out); err != nil {
			t.Fatalf("line is not a whole message: %v", err)
		}
		if out.Type != TypeOutput {
			t.Errorf("Type = %q", out.Type)
		}
	}
}

func TestResultWireShape(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(NewFailure("e", KindAction, ErrorKindUserCode, "boom", 1500*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"result","executionId":"e","outcome":"failure","kind":"action","message":"boom","errorKind":"userCodeException","durationMs":1500}`
	if string(data) != want {
		t.Errorf("failure = %s\nwant      %s", data, want)
	}

	data, err = json.Marshal(NewTimeout("e", KindAction, time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"result","executionId":"e","outcome":"timeout","kind":"action","durationMs":1000}` {
		t.Errorf("timeout = %s", data)
	}
}

func TestCBORRoundTrip(t *testing.T) {
	t.Parallel()

	wire := map[string]any{
		"executionId":     "cb-1",
		"kind":            "resolver",
		"mainFunction":    map[string]any{"code": "function main(a) { return a; }", "handlerName": "main"},
		"beforeFunctions": []any{map[string]any{"code": "function b() {}", "handlerName": "b", "arg": map[string]any{"n": 1}}},
		"args":            map[string]any{"region": "us-east-2"},
		"timeoutMs":       2000,
	}
	data, err := cbor.Marshal(wire)
	if err != nil {
		t.Fatal(err)
	}

	dec, err := NewDecoder(CodecCBOR, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewDecoder() error: %v", err)
	}
	req, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if string(req.Args) != `{"region":"us-east-2"}` {
		t.Errorf("Args = %s", req.Args)
	}
	if len(req.BeforeFunctions) != 1 || string(req.BeforeFunctions[0].Arg) != `{"n":1}` {
		t.Errorf("BeforeFunctions = %+v", req.BeforeFunctions)
	}
	if req.Timeout() != 2*time.Second {
		t.Errorf("Timeout() = %v", req.Timeout())
	}
	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Errorf("Decode() error = %v, want io.EOF", err)
	}

	var buf bytes.Buffer
	enc, err := NewEncoder(CodecCBOR, &buf)
	if err != nil {
		t.Fatalf("NewEncoder() error: %v", err)
	}
	if err := enc.Encode(NewSuccess("cb-1", KindResolver, map[string]any{"data": "x", "unset": false}, time.Second)); err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	var got map[string]any
	if err := cbor.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("cbor.Unmarshal() error: %v", err)
	}
	if got["type"] != "result" || got["outcome"] != "success" {
		t.Errorf("decoded result = %v", got)
	}
}

func TestCodec_Validate(t *testing.T) {
	t.Parallel()

	if err := CodecCBOR.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	if err := Codec("xml").Validate(); !errors.Is(err, ErrInvalidCodec) {
		t.Errorf("Validate() error = %v, want ErrInvalidCodec", err)
	}
	if _, err := NewEncoder("xml", io.Discard); !errors.Is(err, ErrInvalidCodec) {
		t.Errorf("NewEncoder() error = %v, want ErrInvalidCodec", err)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		kind      FunctionKind
		value     any
		undefined bool
		want      any
		wantErr   bool
	}{
		{
			name:  "qualification",
			kind:  KindQualification,
			value: map[string]any{"result": "warning", "message": "close", "subChecks": []any{"dns"}},
			want:  map[string]any{"result": "warning", "message": "close", "subChecks": []any{"dns"}},
		},
		{name: "qualification bad result", kind: KindQualification, value: map[string]any{"result": "meh"}, wantErr: true},
		{name: "qualification not object", kind: KindQualification, value: "success", wantErr: true},
		{name: "qualification undefined", kind: KindQualification, undefined: true, wantErr: true},
		{
			name:  "action",
			kind:  KindAction,
			value: map[string]any{"status": "ok", "payload": map[string]any{"id": int64(7)}, "resourceId": "i-1"},
			want:  map[string]any{"status": "ok", "payload": map[string]any{"id": float64(7)}, "resourceId": "i-1"},
		},
		{
			name:  "action keeps extra fields",
			kind:  KindAction,
			value: map[string]any{"status": "error", "health": "error", "error": map[string]any{"code": "Throttled"}},
			want:  map[string]any{"status": "error", "health": "error", "error": map[string]any{"code": "Throttled"}},
		},
		{name: "action message not string", kind: KindAction, value: map[string]any{"status": "ok", "message": 3}, wantErr: true},
		{
			name:  "code generation",
			kind:  KindCodeGeneration,
			value: map[string]any{"format": "yaml", "code": "a: 1"},
			want:  map[string]any{"format": "yaml", "code": "a: 1"},
		},
		{name: "code generation missing code", kind: KindCodeGeneration, value: map[string]any{"format": "yaml"}, wantErr: true},
		{name: "resolver value", kind: KindResolver, value: []any{int64(1), "a"}, want: map[string]any{"data": []any{float64(1), "a"}, "unset": false}},
		{name: "resolver null", kind: KindResolver, value: nil, want: map[string]any{"data": nil, "unset": false}},
		{name: "resolver undefined", kind: KindResolver, undefined: true, want: map[string]any{"data": nil, "unset": true}},
		{
			name: "workflow",
			kind: KindWorkflow,
			value: map[string]any{
				"name":  "deploy",
				"kind":  "conditional",
				"steps": []any{map[string]any{"command": "apply", "args": []any{"x"}}, map[string]any{"workflow": "verify", "label": "v"}},
				"description": "ship it",
			},
			want: map[string]any{
				"name":        "deploy",
				"kind":        "conditional",
				"steps":       []any{map[string]any{"command": "apply", "args": []any{"x"}}, map[string]any{"workflow": "verify", "label": "v"}},
				"description": "ship it",
			},
		},
		{
			name:    "workflow step with two targets",
			kind:    KindWorkflow,
			value:   map[string]any{"name": "w", "kind": "parallel", "steps": []any{map[string]any{"command": "a", "action": "b"}}},
			wantErr: true,
		},
		{
			name:  "management",
			kind:  KindManagement,
			value: map[string]any{"status": "error", "message": "nope"},
			want:  map[string]any{"status": "error", "message": "nope"},
		},
		{name: "validation", kind: KindValidation, value: map[string]any{"valid": true}, want: map[string]any{"valid": true}},
		{
			name:  "validation error form",
			kind:  KindValidation,
			value: map[string]any{"error": "too short", "field": "name"},
			want:  map[string]any{"valid": false, "message": "too short", "field": "name"},
		},
		{name: "validation missing valid", kind: KindValidation, value: map[string]any{}, wantErr: true},
		{name: "unserializable", kind: KindAction, value: map[string]any{"status": "ok", "payload": func() {}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Normalize(tt.kind, tt.value, tt.undefined)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidReturnType) {
					t.Fatalf("Normalize() error = %v, want ErrInvalidReturnType", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestNormalize_SchemaBuilder(t *testing.T) {
	t.Parallel()

	asset := builder.NewAssetBuilder().
		AddProp(builder.NewPropBuilder().SetName("region").SetKind("string")).
		AddSecretProp(builder.NewSecretPropBuilder().SetName("credential").SetSecretKind("AWS Credential"))

	got, err := Normalize(KindSchemaBuilder, asset, false)
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	def := got.(map[string]any)["definition"].(map[string]any)
	if props := def["props"].([]any); len(props) != 1 {
		t.Errorf("props = %v", props)
	}
	if secrets := def["secretProps"].([]any); len(secrets) != 1 {
		t.Errorf("secretProps = %v", secrets)
	}

	dup := builder.NewAssetBuilder().
		AddProp(builder.NewPropBuilder().SetName("region").SetKind("string")).
		AddProp(builder.NewPropBuilder().SetName("region").SetKind("string"))
	if _, err := Normalize(KindSchemaBuilder, dup, false); !errors.Is(err, ErrInvalidReturnType) {
		t.Errorf("Normalize() error = %v, want ErrInvalidReturnType", err)
	}
	if _, err := Normalize(KindSchemaBuilder, nil, true); !errors.Is(err, ErrInvalidReturnType) {
		t.Errorf("Normalize(undefined) error = %v, want ErrInvalidReturnType", err)
	}
}
