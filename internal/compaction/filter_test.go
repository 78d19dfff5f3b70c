package compaction

import "testing"

func TestPrefixShouldDrop(t *testing.T) {
	p := Prefix("tmp:")
	if !p.ShouldDrop([]byte("tmp:session:1")) {
		t.Error("expected ShouldDrop to match a key with the prefix")
	}
	if p.ShouldDrop([]byte("permanent:1")) {
		t.Error("expected ShouldDrop to reject a key without the prefix")
	}
}

func TestPrefixEmptyMatchesEverything(t *testing.T) {
	p := Prefix(nil)
	if !p.ShouldDrop([]byte("anything")) {
		t.Error("an empty prefix should match every key")
	}
}
