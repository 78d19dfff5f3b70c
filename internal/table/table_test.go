package table

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-lsm/lsmkv/internal/cache"
	"github.com/go-lsm/lsmkv/internal/key"
)

func buildSst(t *testing.T, blockSize int, entries [][2]string, tss []uint64) (*SsTable, string) {
	t.Helper()
	b := NewBuilder(blockSize)
	for i, e := range entries {
		b.Add(key.New([]byte(e[0]), tss[i]), []byte(e[1]))
	}
	path := filepath.Join(t.TempDir(), "00001.sst")
	sst, err := b.Build(1, cache.New(16), path)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return sst, path
}

func TestBuildAndOpenRoundTrip(t *testing.T) {
	entries := [][2]string{{"apple", "1"}, {"banana", "2"}, {"cherry", "3"}, {"date", "4"}}
	tss := []uint64{1, 2, 3, 4}
	sst, path := buildSst(t, 64, entries, tss)
	sst.Close()

	f, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	reopened, err := Open(1, cache.New(16), f)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	if string(reopened.FirstKey().UserKey) != "apple" {
		t.Errorf("FirstKey = %q, want apple", reopened.FirstKey().UserKey)
	}
	if string(reopened.LastKey().UserKey) != "date" {
		t.Errorf("LastKey = %q, want date", reopened.LastKey().UserKey)
	}
	if reopened.MaxTs() != 4 {
		t.Errorf("MaxTs = %d, want 4", reopened.MaxTs())
	}
	if reopened.NumBlocks() < 1 {
		t.Error("NumBlocks should be at least 1")
	}
	if reopened.Size() <= 0 {
		t.Error("Size should be positive")
	}
	for _, e := range entries {
		if !reopened.MayContain([]byte(e[0])) {
			t.Errorf("MayContain(%q) = false, want true", e[0])
		}
	}
}

func TestIteratorScansAllEntriesInOrder(t *testing.T) {
	entries := [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}, {"e", "5"}}
	tss := []uint64{1, 1, 1, 1, 1}
	sst, _ := buildSst(t, 24, entries, tss)
	defer sst.Close()

	it, err := NewIterator(sst)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	var got []string
	for it.IsValid() {
		got = append(got, string(it.Key().UserKey))
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	want := []string{"a", "b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("got %v entries, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIteratorSeekedToMidKey(t *testing.T) {
	entries := [][2]string{{"a", "1"}, {"c", "2"}, {"e", "3"}, {"g", "4"}}
	tss := []uint64{1, 1, 1, 1}
	sst, _ := buildSst(t, 16, entries, tss)
	defer sst.Close()

	it, err := NewIteratorSeekedTo(sst, key.New([]byte("d"), key.TsRangeBegin))
	if err != nil {
		t.Fatalf("NewIteratorSeekedTo: %v", err)
	}
	if !it.IsValid() || string(it.Key().UserKey) != "e" {
		t.Fatalf("seeked iterator landed on %q, want e", it.Key().UserKey)
	}
}

func TestIteratorSeekedPastEndIsInvalid(t *testing.T) {
	entries := [][2]string{{"a", "1"}, {"b", "2"}}
	tss := []uint64{1, 1}
	sst, _ := buildSst(t, 4096, entries, tss)
	defer sst.Close()

	it, err := NewIteratorSeekedTo(sst, key.New([]byte("z"), key.TsRangeBegin))
	if err != nil {
		t.Fatalf("NewIteratorSeekedTo: %v", err)
	}
	if it.IsValid() {
		t.Error("seeking past the last key should produce an invalid iterator")
	}
}

func TestFindBlockIdx(t *testing.T) {
	entries := [][2]string{{"a", "1"}, {"m", "2"}, {"z", "3"}}
	tss := []uint64{1, 1, 1}
	sst, _ := buildSst(t, 4, entries, tss)
	defer sst.Close()

	if idx := sst.FindBlockIdx(key.New([]byte("0"), key.TsRangeBegin)); idx != 0 {
		t.Errorf("FindBlockIdx(before first) = %d, want 0", idx)
	}
}

func TestOpenDetectsCorruptBlockOnRead(t *testing.T) {
	entries := [][2]string{{"a", "1"}, {"b", "2"}}
	tss := []uint64{1, 1}
	sst, path := buildSst(t, 4096, entries, tss)
	sst.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	corrupt := append([]byte(nil), raw...)
	corrupt[0] ^= 0xFF
	if err := os.WriteFile(path, corrupt, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	reopened, err := Open(1, cache.New(16), f)
	if err != nil {
		// corruption in the leading data block can still be caught at Open
		// time if it perturbs the block-meta checksum validation path.
		return
	}
	defer reopened.Close()

	if _, err := reopened.ReadBlockCached(0); err == nil {
		t.Error("expected a checksum error reading a corrupted data block")
	}
}
