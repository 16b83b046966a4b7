package mpi

import (
	"bytes"
	"testing"
)

func TestSingleCommIdentities(t *testing.T) {
	c := World()
	if c.Rank() != 0 {
		t.Fatalf("Rank() = %d, want 0", c.Rank())
	}
	if c.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", c.Size())
	}

	in := []float64{1, 2, 3}
	sum := c.AllreduceFloat64(OpSum, in)
	for i := range in {
		if sum[i] != in[i] {
			t.Fatalf("AllreduceFloat64 on one rank should be identity, got %v", sum)
		}
	}

	payload := []byte("hello")
	got := c.BcastBytes(append([]byte(nil), payload...), 0)
	if !bytes.Equal(got, payload) {
		t.Fatalf("BcastBytes = %q, want %q", got, payload)
	}

	gathered := c.Gatherv(payload, 0)
	if len(gathered) != 1 || !bytes.Equal(gathered[0], payload) {
		t.Fatalf("Gatherv = %v, want single-element %q", gathered, payload)
	}

	shuffled := c.Alltoallv([][]byte{payload})
	if len(shuffled) != 1 || !bytes.Equal(shuffled[0], payload) {
		t.Fatalf("Alltoallv = %v, want single-element %q", shuffled, payload)
	}
}

func TestSingleCommAbortPanics(t *testing.T) {
	c := World()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("Abort did not panic")
		}
		ap, ok := r.(abortPanic)
		if !ok || ap.code != 2 {
			t.Fatalf("recovered %#v, want abortPanic{code:2}", r)
		}
	}()
	c.Abort(2)
}
