package event

import "testing"

func TestFingerprint(t *testing.T) {
	ev := Event{Type: "comment", Action: "create", Data: Data{ResourceID: "c-42"}}
	if got := ev.Fingerprint(); got != "comment:create:c-42" {
		t.Errorf("Fingerprint = %q, want %q", got, "comment:create:c-42")
	}
}

func TestFingerprint_IgnoresDeliveryID(t *testing.T) {
	a := Event{ID: "delivery-1", Type: "comment", Action: "create", Data: Data{ResourceID: "c-42"}}
	b := Event{ID: "delivery-2", Type: "comment", Action: "create", Data: Data{ResourceID: "c-42"}}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprints of the same notification must match across deliveries")
	}
}

func TestThreadRootID_ExplicitThread(t *testing.T) {
	ev := Event{Data: Data{ResourceID: "c-42", ThreadID: "issue-7"}}
	if got := ev.ThreadRootID(); got != "issue-7" {
		t.Errorf("ThreadRootID = %q, want %q", got, "issue-7")
	}
}

func TestThreadRootID_FallsBackToResource(t *testing.T) {
	ev := Event{Data: Data{ResourceID: "issue-7"}}
	if got := ev.ThreadRootID(); got != "issue-7" {
		t.Errorf("ThreadRootID = %q, want %q", got, "issue-7")
	}
}
