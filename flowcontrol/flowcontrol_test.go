package flowcontrol

import "testing"

func TestSendWindowReserveAndBlock(t *testing.T) {
	w := NewSendWindow(100)
	if err := w.Reserve(60); err != nil {
		t.Fatalf("Reserve(60): %v", err)
	}
	if w.Available() != 40 {
		t.Errorf("Available() = %d, want 40", w.Available())
	}
	if err := w.Reserve(41); err == nil {
		t.Errorf("expected ErrFlowControlViolation reserving past the maximum")
	}
	if err := w.Reserve(40); err != nil {
		t.Fatalf("Reserve(40): %v", err)
	}
	if !w.Blocked() {
		t.Errorf("expected window to be blocked once fully reserved")
	}
}

func TestSendWindowUpdateMaximumIgnoresDecrease(t *testing.T) {
	w := NewSendWindow(100)
	w.UpdateMaximum(50)
	if w.Available() != 100 {
		t.Errorf("a lower MAX_DATA must not shrink the window: Available() = %d", w.Available())
	}
	w.UpdateMaximum(200)
	if w.Available() != 200 {
		t.Errorf("Available() = %d, want 200", w.Available())
	}
}

func TestReceiveWindowValidateViolation(t *testing.T) {
	w := NewReceiveWindow(100)
	if err := w.Validate(90, 10); err != nil {
		t.Fatalf("Validate at the boundary: %v", err)
	}
	if err := w.Validate(90, 11); err == nil {
		t.Errorf("expected violation exceeding the maximum")
	}
}

func TestReceiveWindowConsumeSlidesAndSignals(t *testing.T) {
	w := NewReceiveWindow(100)
	max, send := w.Consume(10)
	if send {
		t.Errorf("should not need to send yet: consumed 10 of a 100 window")
	}
	if max != 100 {
		t.Errorf("max = %d, want 100 unchanged", max)
	}
	max, send = w.Consume(60)
	if !send {
		t.Errorf("expected a MAX_DATA update after consuming past half the window")
	}
	if max <= 100 {
		t.Errorf("max should have grown past 100, got %d", max)
	}
}
