package invariant

import "testing"

func TestAssertTruePasses(t *testing.T) {
	Assert(true, Context{Invariant: "noop"}, "should never fire")
}

// countingStringer counts how often it is formatted.
type countingStringer struct{ calls *int }

func (c countingStringer) String() string { *c.calls++; return "x" }

func TestAssertfFormatsOnlyWhenFalse(t *testing.T) {
	calls := 0
	Assertf(true, Context{Invariant: "noop"}, "%v", countingStringer{calls: &calls})
	if calls != 0 {
		t.Fatalf("Assertf(true, ...) formatted its arguments %d times, want 0", calls)
	}
}

func TestAssertFalsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Assert(false) should abort/panic under the single-process fallback")
		}
	}()
	Assert(false, Context{Invariant: "test.always_false", Rank: 0, ParticleID: 42, HasParticleID: true}, "boom")
}
