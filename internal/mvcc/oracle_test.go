package mvcc

import "testing"

func TestOracleWatermarkFallsBackToLastCommitTsWhenIdle(t *testing.T) {
	o := NewOracle()
	if o.Watermark() != 0 {
		t.Errorf("fresh oracle Watermark = %d, want 0", o.Watermark())
	}
	o.UpdateCommitTs(5)
	if o.Watermark() != 5 {
		t.Errorf("idle oracle Watermark = %d, want 5 (latest commit ts)", o.Watermark())
	}
}

func TestOracleWatermarkTracksActiveReader(t *testing.T) {
	o := NewOracle()
	o.UpdateCommitTs(10)

	readTs := o.beginRead()
	if readTs != 10 {
		t.Fatalf("beginRead = %d, want 10", readTs)
	}
	if o.Watermark() != 10 {
		t.Errorf("Watermark with one active reader at 10 = %d, want 10", o.Watermark())
	}

	o.UpdateCommitTs(20)
	if o.Watermark() != 10 {
		t.Errorf("Watermark should stay pinned to the active reader's ts 10, got %d", o.Watermark())
	}

	o.endRead(readTs)
	if o.Watermark() != 20 {
		t.Errorf("Watermark after the only reader ends = %d, want 20 (latest commit ts)", o.Watermark())
	}
}

func TestOracleUpdateCommitTsIsMonotonic(t *testing.T) {
	o := NewOracle()
	o.UpdateCommitTs(10)
	o.UpdateCommitTs(3)
	if o.LastCommitTs() != 10 {
		t.Errorf("LastCommitTs = %d, want 10 (a lower ts must not regress it)", o.LastCommitTs())
	}
}
