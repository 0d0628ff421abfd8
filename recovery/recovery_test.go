package recovery

import (
	"testing"
	"time"
)

func TestRTTEstimatorFirstSample(t *testing.T) {
	r := NewRTTEstimator()
	r.Update(100*time.Millisecond, 0, 25*time.Millisecond)
	if r.Smoothed() != 100*time.Millisecond {
		t.Errorf("Smoothed() = %v, want 100ms", r.Smoothed())
	}
	if r.Min() != 100*time.Millisecond {
		t.Errorf("Min() = %v, want 100ms", r.Min())
	}
}

func TestRTTEstimatorSubsequentSamplesSmooth(t *testing.T) {
	r := NewRTTEstimator()
	r.Update(100*time.Millisecond, 0, 25*time.Millisecond)
	r.Update(200*time.Millisecond, 0, 25*time.Millisecond)
	if r.Smoothed() <= 100*time.Millisecond || r.Smoothed() >= 200*time.Millisecond {
		t.Errorf("Smoothed() = %v, want strictly between 100ms and 200ms", r.Smoothed())
	}
	if r.Min() != 100*time.Millisecond {
		t.Errorf("Min() should stay at the smallest sample: got %v", r.Min())
	}
}

func TestTrackerAckMarksNewlyAckedAndSamplesRTT(t *testing.T) {
	rtt := NewRTTEstimator()
	tr := NewTracker(rtt)
	sentAt := time.Now()
	tr.OnSent(SpaceApplication, SentPacket{Number: 1, SentAt: sentAt, AckEliciting: true, InFlight: true, Size: 100})
	tr.OnSent(SpaceApplication, SentPacket{Number: 2, SentAt: sentAt, AckEliciting: true, InFlight: true, Size: 100})

	result := tr.OnAck(SpaceApplication, []AckRange{{Smallest: 1, Largest: 2}}, 0, 25*time.Millisecond, sentAt.Add(50*time.Millisecond))
	if len(result.NewlyAcked) != 2 {
		t.Fatalf("got %d newly acked, want 2", len(result.NewlyAcked))
	}
	if !result.RTTSample {
		t.Errorf("expected an RTT sample from the largest newly-acked packet")
	}
}

func TestTrackerDetectsPacketThresholdLoss(t *testing.T) {
	rtt := NewRTTEstimator()
	tr := NewTracker(rtt)
	sentAt := time.Now()
	for pn := int64(1); pn <= 5; pn++ {
		tr.OnSent(SpaceApplication, SentPacket{Number: pn, SentAt: sentAt, AckEliciting: true, InFlight: true, Size: 100})
	}
	// Acking only packet 5 leaves 1,2 at least packetThreshold (3) behind it.
	result := tr.OnAck(SpaceApplication, []AckRange{{Smallest: 5, Largest: 5}}, 0, 25*time.Millisecond, sentAt)
	lostNumbers := map[int64]bool{}
	for _, p := range result.Lost {
		lostNumbers[p.Number] = true
	}
	if !lostNumbers[1] || !lostNumbers[2] {
		t.Errorf("expected packets 1 and 2 to be declared lost by packet threshold, got %+v", result.Lost)
	}
	if lostNumbers[3] || lostNumbers[4] {
		t.Errorf("packets 3 and 4 are within the packet threshold and should not be lost yet")
	}
}

func TestPacerAllowsBurstThenLimits(t *testing.T) {
	p := NewPacer(1200, 100*time.Millisecond, 1200)
	if !p.AllowSend(1200) {
		t.Fatalf("expected the initial burst to be allowed")
	}
	if p.AllowSend(1200) {
		t.Errorf("expected a second immediate send to be paced")
	}
}
