package store

import "testing"

func TestRejectedCodes(t *testing.T) {
	r := NewRejectedCodes()

	if r.Contains("12345") {
		t.Fatal("empty cache must not contain codes")
	}

	r.Add("12345")
	r.Add("23456")
	r.Add("12345") // duplicate add is a no-op

	if !r.Contains("12345") || !r.Contains("23456") {
		t.Fatal("added codes missing")
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}

	if n := r.Clear(); n != 2 {
		t.Fatalf("Clear returned %d, want 2", n)
	}
	if r.Contains("12345") || r.Len() != 0 {
		t.Fatal("cache not empty after Clear")
	}
}
