// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrInvalidKey is returned when a key is empty or whitespace-only.
	ErrInvalidKey = errors.New("invalid storage key")
	// ErrNotSerializable is returned when a value cannot be encoded as JSON.
	ErrNotSerializable = errors.New("value is not JSON-serializable")
)

type (
	// Key names one entry in a Storage.
	Key string

	// InvalidKeyError is returned when a Key value is empty or whitespace-only.
	// It wraps ErrInvalidKey for errors.Is() compatibility.
	InvalidKeyError struct {
		Value Key
	}

	// Storage is the scratch space of one execution request.
	// Keys keep the order in which they were first set; overwriting a key keeps
	// its position, deleting and setting it again moves it to the end.
	Storage struct {
		mu      sync.Mutex
		entries map[Key]json.RawMessage
		order   []Key
		env     map[string]string
	}
)

// Validate returns nil if the key is usable, or an error wrapping ErrInvalidKey.
func (k Key) Validate() error {
	if strings.TrimSpace(string(k)) == "" {
		return &InvalidKeyError{Value: k}
	}
	return nil
}

// String returns the string representation of the Key.
func (k Key) String() string { return string(k) }

// Error implements the error interface for InvalidKeyError.
func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid storage key %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidKey for errors.Is() compatibility.
func (e *InvalidKeyError) Unwrap() error { return ErrInvalidKey }

// New creates an empty Storage. env is the allowlisted host environment
// snapshot exposed through Env; it is copied.
func New(env map[string]string) *Storage {
	return &Storage{
		entries: make(map[Key]json.RawMessage),
		env:     maps.Clone(env),
	}
}

// SetJSON stores an already encoded JSON document under key.
func (s *Storage) SetJSON(key Key, doc []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if !json.Valid(doc) {
		return fmt.Errorf("set %q: %w", key, ErrNotSerializable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists {
		s.order = append(s.order, key)
	}
	s.entries[key] = slices.Clone(doc)
	return nil
}

// Set encodes value as JSON and stores it under key.
func (s *Storage) Set(key Key, value any) error {
	doc, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set %q: %w: %w", key, ErrNotSerializable, err)
	}
	return s.SetJSON(key, doc)
}

// GetJSON returns a copy of the JSON document stored under key.
// The boolean is false when the key is not set, which is distinct from a
// stored JSON null.
func (s *Storage) GetJSON(key Key) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(doc), true
}

// Get decodes the value stored under key into a fresh Go value.
func (s *Storage) Get(key Key) (any, bool) {
	doc, ok := s.GetJSON(key)
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		// Documents are validated on the way in.
		return nil, false
	}
	return v, true
}

// Delete removes key. Deleting a key that is not set is a no-op.
func (s *Storage) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists {
		return
	}
	delete(s.entries, key)
	s.order = slices.DeleteFunc(s.order, func(k Key) bool { return k == key })
}

// Keys returns the set keys in insertion order.
func (s *Storage) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Len returns the number of set keys.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Env returns an allowlisted host environment variable captured when the
// request started.
func (s *Storage) Env(name string) (string, bool) {
	v, ok := s.env[name]
	return v, ok
}

// Clear drops every entry. Called when the owning request completes.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
	s.order = nil
}
