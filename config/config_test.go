package config

import "testing"

func TestNewTransportDefaults(t *testing.T) {
	tr := NewTransport()
	if tr.MaxUDPPayloadSize() != 1452 {
		t.Errorf("MaxUDPPayloadSize() = %d, want 1452", tr.MaxUDPPayloadSize())
	}
	if tr.MaxTLPs() != 2 {
		t.Errorf("MaxTLPs() = %d, want 2", tr.MaxTLPs())
	}
	if !tr.AllowSpin() {
		t.Errorf("AllowSpin() = false, want true")
	}
}

func TestWithMaxUDPPayloadSizeRejectsBelowMinimum(t *testing.T) {
	tr := NewTransport()
	if _, err := tr.WithMaxUDPPayloadSize(100); err != ErrOutOfBounds {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestWithActiveConnectionIDLimitRejectsBelowTwo(t *testing.T) {
	tr := NewTransport()
	if _, err := tr.WithActiveConnectionIDLimit(1); err != ErrOutOfBounds {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestEndpointTokenKeyLength(t *testing.T) {
	e := NewEndpoint()
	if _, err := e.WithTokenKey(make([]byte, 16)); err != ErrTokenKeyLength {
		t.Fatalf("expected ErrTokenKeyLength, got %v", err)
	}
	if _, err := e.WithTokenKey(make([]byte, 32)); err != nil {
		t.Fatalf("32-byte key should be accepted: %v", err)
	}
}

func TestFileConfigApplyToOverlaysDefaults(t *testing.T) {
	tr := NewTransport()
	fc := FileConfig{InitialMaxDataBytes: 2 << 20}
	tr, err := fc.ApplyTo(tr)
	if err != nil {
		t.Fatalf("ApplyTo: %v", err)
	}
	if tr.InitialMaxData() != 2<<20 {
		t.Errorf("InitialMaxData() = %d, want %d", tr.InitialMaxData(), 2<<20)
	}
}
