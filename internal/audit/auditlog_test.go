package audit

import "testing"

func TestChainVerifies(t *testing.T) {
	l := New()
	l.Record(EventEnroll, "alice")
	l.Record(EventLoginFailed, "alice")
	l.Record(EventLoginOK, "alice")
	l.Record(EventRotateOK, "alice")
	if err := l.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(l.Entries()) != 4 {
		t.Fatalf("got %d entries", len(l.Entries()))
	}
}

func TestTamperDetected(t *testing.T) {
	l := New()
	l.Record(EventLoginOK, "alice")
	l.Record(EventLoginOK, "bob")
	l.entries[0].Identity = "mallory"
	if err := l.Verify(); err == nil {
		t.Fatal("tampered chain must not verify")
	}
}

func TestTimestampTamperDetected(t *testing.T) {
	l := New()
	l.Record(EventRotateFailed, "alice")
	l.Record(EventRotateOK, "alice")
	l.entries[0].TS -= 3600
	if err := l.Verify(); err == nil {
		t.Fatal("backdated entry must not verify")
	}
}
