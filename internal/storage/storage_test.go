// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"errors"
	"reflect"
	"testing"
)

func TestStorage_SetGet(t *testing.T) {
	t.Parallel()

	s := New(nil)
	if err := s.Set("region", "us-east-2"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	got, ok := s.Get("region")
	if !ok {
		t.Fatal("Get() reported key as not set")
	}
	if got != "us-east-2" {
		t.Errorf("Get() = %v, want %q", got, "us-east-2")
	}
}

func TestStorage_NotSetIsDistinctFromNull(t *testing.T) {
	t.Parallel()

	s := New(nil)
	if err := s.Set("nothing", nil); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	v, ok := s.Get("nothing")
	if !ok {
		t.Fatal("stored null should be reported as set")
	}
	if v != nil {
		t.Errorf("Get() = %v, want nil", v)
	}

	if _, ok := s.Get("missing"); ok {
		t.Error("missing key should be reported as not set")
	}
}

func TestStorage_ValuesAreCopied(t *testing.T) {
	t.Parallel()

	s := New(nil)
	input := map[string]any{"tags": []any{"a"}}
	if err := s.Set("obj", input); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	input["tags"] = []any{"mutated"}

	first, _ := s.Get("obj")
	first.(map[string]any)["tags"] = "also mutated"

	second, _ := s.Get("obj")
	want := map[string]any{"tags": []any{"a"}}
	if !reflect.DeepEqual(second, want) {
		t.Errorf("Get() = %v, want %v", second, want)
	}
}

func TestStorage_KeysOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ops  func(s *Storage)
		want []Key
	}{
		{
			name: "insertion order",
			ops: func(s *Storage) {
				_ = s.Set("b", 1)
				_ = s.Set("a", 2)
				_ = s.Set("c", 3)
			},
			want: []Key{"b", "a", "c"},
		},
		{
			name: "overwrite keeps position",
			ops: func(s *Storage) {
				_ = s.Set("b", 1)
				_ = s.Set("a", 2)
				_ = s.Set("b", 3)
			},
			want: []Key{"b", "a"},
		},
		{
			name: "delete then set moves to end",
			ops: func(s *Storage) {
				_ = s.Set("b", 1)
				_ = s.Set("a", 2)
				s.Delete("b")
				_ = s.Set("b", 3)
			},
			want: []Key{"a", "b"},
		},
		{
			name: "delete missing key is a no-op",
			ops: func(s *Storage) {
				_ = s.Set("a", 1)
				s.Delete("zzz")
			},
			want: []Key{"a"},
		},
		{
			name: "empty",
			ops:  func(s *Storage) {},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := New(nil)
			tt.ops(s)
			if got := s.Keys(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Keys() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStorage_InvalidInput(t *testing.T) {
	t.Parallel()

	s := New(nil)

	err := s.Set("  ", 1)
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Set() with blank key error = %v, want ErrInvalidKey", err)
	}
	var keyErr *InvalidKeyError
	if !errors.As(err, &keyErr) {
		t.Errorf("Set() error should be *InvalidKeyError, got %T", err)
	}

	err = s.Set("fn", func() {})
	if !errors.Is(err, ErrNotSerializable) {
		t.Errorf("Set() with func error = %v, want ErrNotSerializable", err)
	}

	err = s.SetJSON("raw", []byte("{not json"))
	if !errors.Is(err, ErrNotSerializable) {
		t.Errorf("SetJSON() with invalid document error = %v, want ErrNotSerializable", err)
	}

	if s.Len() != 0 {
		t.Errorf("Len() = %d after rejected writes, want 0", s.Len())
	}
}

func TestStorage_Env(t *testing.T) {
	t.Parallel()

	env := map[string]string{"AWS_REGION": "eu-west-1"}
	s := New(env)
	env["AWS_REGION"] = "changed"

	if v, ok := s.Env("AWS_REGION"); !ok || v != "eu-west-1" {
		t.Errorf("Env(AWS_REGION) = %q, %v; want %q, true", v, ok, "eu-west-1")
	}
	if _, ok := s.Env("HOME"); ok {
		t.Error("Env(HOME) should not be visible when it is not allowlisted")
	}
}

func TestStorage_Clear(t *testing.T) {
	t.Parallel()

	s := New(nil)
	_ = s.Set("a", 1)
	_ = s.Set("b", 2)
	s.Clear()

	if s.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", s.Len())
	}
	if _, ok := s.Get("a"); ok {
		t.Error("Get(a) should report not set after Clear")
	}
}
