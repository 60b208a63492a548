package core

import "testing"

func TestEventStatus_Valid(t *testing.T) {
	for _, status := range []EventStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetrying} {
		if !status.Valid() {
			t.Fatalf("expected %q to be valid", status)
		}
	}
	if EventStatus("archived").Valid() {
		t.Fatalf("expected unknown status to be invalid")
	}
}

func TestEventStatus_Terminal(t *testing.T) {
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatalf("expected completed and failed to be terminal")
	}
	for _, status := range []EventStatus{StatusPending, StatusProcessing, StatusRetrying} {
		if status.Terminal() {
			t.Fatalf("expected %q to be non-terminal", status)
		}
	}
}

func TestNotificationSubject_Convention(t *testing.T) {
	subject := NotificationSubject("payments", "charge.succeeded", StatusCompleted)
	if subject != "events.payments.charge_succeeded.completed" {
		t.Fatalf("unexpected subject %q", subject)
	}
}

func TestNotificationSubject_EmptySegments(t *testing.T) {
	subject := NotificationSubject("", "", StatusFailed)
	if subject != "events._._.failed" {
		t.Fatalf("unexpected subject %q", subject)
	}
}
