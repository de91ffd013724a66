package server

import "testing"

func TestMetricsSessionLifecycle(t *testing.T) {
	var m Metrics
	m.sessionStarted()
	m.sessionStarted()
	m.frameEmitted()
	m.frameEmitted()
	m.frameEmitted()
	m.sessionEnded()

	snap := m.Snapshot()
	if snap.ActiveSessions != 1 {
		t.Fatalf("ActiveSessions = %d, want 1", snap.ActiveSessions)
	}
	if snap.TotalSessions != 2 {
		t.Fatalf("TotalSessions = %d, want 2", snap.TotalSessions)
	}
	if snap.TotalFrames != 3 {
		t.Fatalf("TotalFrames = %d, want 3", snap.TotalFrames)
	}
}
