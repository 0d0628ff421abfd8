package congestion

import (
	"testing"
	"time"
)

func TestNewRenoSlowStartGrowsOnAck(t *testing.T) {
	now := time.Now()
	c := NewRenoFactory{}.Build(now, 1200)
	before := c.Window()
	c.OnSent(now, 1200)
	c.OnAck(now.Add(10*time.Millisecond), now, 1200, 50*time.Millisecond)
	if c.Window() <= before {
		t.Errorf("expected the window to grow in slow start: before=%d after=%d", before, c.Window())
	}
}

func TestNewRenoLossHalvesWindow(t *testing.T) {
	now := time.Now()
	c := NewRenoFactory{}.Build(now, 1200)
	c.OnSent(now, 12000)
	before := c.Window()
	c.OnLost(now.Add(10*time.Millisecond), now, 1200)
	if c.Window() >= before {
		t.Errorf("expected the window to shrink on loss: before=%d after=%d", before, c.Window())
	}
}

func TestNewRenoIgnoresLossesWithinSameRecoveryPeriod(t *testing.T) {
	now := time.Now()
	c := NewRenoFactory{}.Build(now, 1200)
	c.OnSent(now, 12000)
	c.OnLost(now.Add(10*time.Millisecond), now, 1200)
	afterFirst := c.Window()
	c.OnLost(now.Add(20*time.Millisecond), now.Add(5*time.Millisecond), 1200)
	if c.Window() != afterFirst {
		t.Errorf("a second loss within the same recovery period must not shrink the window again: got %d want %d", c.Window(), afterFirst)
	}
}

func TestCubicPersistentCongestionResetsToMinimum(t *testing.T) {
	now := time.Now()
	c := CubicFactory{}.Build(now, 1200)
	c.OnSent(now, 100000)
	c.OnLost(now.Add(time.Second), now, 1200)
	c.OnPersistentCongestion(now.Add(2 * time.Second))
	if c.Window() != minimumWindow {
		t.Errorf("Window() = %d, want minimumWindow = %d", c.Window(), minimumWindow)
	}
}

func TestCubicGrowsAfterLossRecoveryEnds(t *testing.T) {
	now := time.Now()
	c := CubicFactory{}.Build(now, 1200)
	c.OnSent(now, 100000)
	c.OnLost(now.Add(time.Second), now, 1200)
	afterLoss := c.Window()
	// An ack for a packet sent strictly after the recovery period began
	// should resume growth.
	later := now.Add(2 * time.Second)
	c.OnAck(later, later, 1200, 50*time.Millisecond)
	if c.Window() <= afterLoss {
		t.Errorf("expected window to grow once past recovery: afterLoss=%d now=%d", afterLoss, c.Window())
	}
}
