package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestAddRecordAndRecoverRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	m, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	records := []Record{
		{Kind: KindNewMemTable, MemTableID: 1},
		{Kind: KindFlush, SstID: 1},
		{Kind: KindNewMemTable, MemTableID: 2},
		{Kind: KindCompaction, Task: json.RawMessage(`{"upper":[1]}`), OutputSstIDs: []uint64{3, 4}},
	}
	for _, rec := range records {
		if err := m.AddRecord(rec); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var replayed []Record
	recovered, err := Recover(path, func(rec Record) {
		replayed = append(replayed, rec)
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	defer recovered.Close()

	if len(replayed) != len(records) {
		t.Fatalf("replayed %d records, want %d", len(replayed), len(records))
	}
	for i, rec := range records {
		if replayed[i].Kind != rec.Kind {
			t.Errorf("record %d kind = %q, want %q", i, replayed[i].Kind, rec.Kind)
		}
	}
	if replayed[1].SstID != 1 {
		t.Errorf("flush record sst_id = %d, want 1", replayed[1].SstID)
	}
	if len(replayed[3].OutputSstIDs) != 2 || replayed[3].OutputSstIDs[0] != 3 {
		t.Errorf("compaction record output_sst_ids = %v, want [3 4]", replayed[3].OutputSstIDs)
	}
}

func TestRecoverPreservesOrderAcrossKinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	m, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := uint64(1); i <= 5; i++ {
		if err := m.AddRecord(Record{Kind: KindNewMemTable, MemTableID: i}); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var ids []uint64
	recovered, err := Recover(path, func(rec Record) {
		ids = append(ids, rec.MemTableID)
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	defer recovered.Close()

	for i, id := range ids {
		if id != uint64(i+1) {
			t.Errorf("ids[%d] = %d, want %d", i, id, i+1)
		}
	}
}

func TestRecoverDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	m, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.AddRecord(Record{Kind: KindNewMemTable, MemTableID: 1}); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// flip a byte inside the JSON payload, after the 8-byte length prefix.
	raw[9] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Recover(path, func(Record) {}); err == nil {
		t.Error("expected Recover to detect the corrupted record")
	}
}

func TestAddRecordAppendsAfterRecover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	m, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.AddRecord(Record{Kind: KindNewMemTable, MemTableID: 1}); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	recovered, err := Recover(path, func(Record) {})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if err := recovered.AddRecord(Record{Kind: KindFlush, SstID: 9}); err != nil {
		t.Fatalf("AddRecord after recover: %v", err)
	}
	if err := recovered.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var kinds []RecordKind
	again, err := Recover(path, func(rec Record) {
		kinds = append(kinds, rec.Kind)
	})
	if err != nil {
		t.Fatalf("second Recover: %v", err)
	}
	defer again.Close()

	if len(kinds) != 2 || kinds[0] != KindNewMemTable || kinds[1] != KindFlush {
		t.Errorf("kinds = %v, want [new_memtable flush]", kinds)
	}
}
