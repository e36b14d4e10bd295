// SPDX-License-Identifier: MPL-2.0

package sandbox

import "testing"

func TestProgramCache(t *testing.T) {
	t.Parallel()

	c := NewProgramCache(2)

	first, err := c.Compile("a.js", "1 + 1")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	again, err := c.Compile("a.js", "1 + 1")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if first != again {
		t.Error("identical source was compiled twice")
	}

	if _, err := c.Compile("b.js", "2"); err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if _, err := c.Compile("c.js", "3"); err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	evicted, err := c.Compile("a.js", "1 + 1")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if evicted == first {
		t.Error("least recently used program was not evicted")
	}

	if _, err := c.Compile("bad.js", "function ("); err == nil {
		t.Error("Compile() accepted a syntax error")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d after syntax error, want 2", c.Len())
	}
}

func TestProgramCache_Nil(t *testing.T) {
	t.Parallel()

	var c *ProgramCache
	if _, err := c.Compile("a.js", "1"); err != nil {
		t.Errorf("nil cache Compile() error: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("nil cache Len() = %d", c.Len())
	}
}

func TestState(t *testing.T) {
	t.Parallel()

	for s := StateIdle; s <= StateTimedOut; s++ {
		if err := s.Validate(); err != nil {
			t.Errorf("%v.Validate() error: %v", s, err)
		}
	}
	if err := State(42).Validate(); err == nil {
		t.Error("State(42).Validate() = nil")
	}
	if !StateTimedOut.IsTerminal() || StateRunningMain.IsTerminal() {
		t.Error("IsTerminal() mismatch")
	}
}
