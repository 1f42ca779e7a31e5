package artifact

import "testing"

func TestCanonicalHashIsOrderIndependent(t *testing.T) {
	a := NewConfigSnapshot(map[string]interface{}{"b": 2, "a": 1, "c": map[string]interface{}{"y": 2, "x": 1}})
	b := NewConfigSnapshot(map[string]interface{}{"c": map[string]interface{}{"x": 1, "y": 2}, "a": 1, "b": 2})
	if a.ComputeHash() != b.ComputeHash() {
		t.Fatalf("hashes should match for equivalent configs regardless of key order: %s vs %s", a.Hash, b.Hash)
	}
}

func TestVerifyHashDetectsTampering(t *testing.T) {
	s := NewConfigSnapshot(map[string]interface{}{"a": 1})
	if !s.VerifyHash() {
		t.Fatal("freshly computed hash should verify")
	}
	s.Config["a"] = 2
	if s.VerifyHash() {
		t.Fatal("hash should no longer verify after config mutation")
	}
}
