package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	iface "LiveDetect/interface"
)

// mockDetector records every frame it sees on a channel. An optional release
// channel lets a test hold the worker inside Detect.
type mockDetector struct {
	seen    chan iface.Frame
	release chan struct{}
	errOn   int
	calls   int
}

func newMockDetector() *mockDetector {
	return &mockDetector{seen: make(chan iface.Frame, 16)}
}

func (m *mockDetector) Detect(frame iface.Frame) (iface.DetectionBatch, error) {
	m.calls++
	m.seen <- frame
	if m.release != nil {
		<-m.release
	}
	if m.errOn != 0 && m.calls == m.errOn {
		return nil, errors.New("backend down")
	}
	return iface.DetectionBatch{}, nil
}

func frameOfWidth(w int) iface.Frame {
	return iface.Frame{Data: make([]byte, w*3), Width: w, Height: 1, Channels: 3}
}

func waitFrame(t *testing.T, ch chan iface.Frame) iface.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a processed frame")
		return iface.Frame{}
	}
}

func assertNoFrame(t *testing.T, ch chan iface.Frame) {
	t.Helper()
	select {
	case f := <-ch:
		t.Fatalf("unexpected frame of width %d", f.Width)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSkipPolicy(t *testing.T) {
	det := newMockDetector()
	s := New(det, iface.PolicySkip, 2)
	defer s.Close()

	// With a budget of 2, only every third frame is admitted.
	assert.False(t, s.Submit(frameOfWidth(1)))
	assert.False(t, s.Submit(frameOfWidth(2)))
	assert.True(t, s.Submit(frameOfWidth(3)))

	got := waitFrame(t, det.seen)
	assert.Equal(t, 3, got.Width)
	assertNoFrame(t, det.seen)
}

func TestSkipPolicyZeroBudget(t *testing.T) {
	det := newMockDetector()
	s := New(det, iface.PolicySkip, 0)
	defer s.Close()

	assert.True(t, s.Submit(frameOfWidth(1)))
	got := waitFrame(t, det.seen)
	assert.Equal(t, 1, got.Width)
}

func TestCoalescePolicy(t *testing.T) {
	det := newMockDetector()
	det.release = make(chan struct{})
	s := New(det, iface.PolicyCoalesce, 0)
	defer s.Close()

	// The worker takes the first frame and blocks inside Detect.
	assert.True(t, s.Submit(frameOfWidth(1)))
	got := waitFrame(t, det.seen)
	assert.Equal(t, 1, got.Width)

	// Two more arrive while the slot is occupied; the newer one wins.
	assert.True(t, s.Submit(frameOfWidth(2)))
	assert.True(t, s.Submit(frameOfWidth(3)))

	close(det.release)
	got = waitFrame(t, det.seen)
	assert.Equal(t, 3, got.Width)
	assertNoFrame(t, det.seen)
}

func TestWorkerSurvivesDetectError(t *testing.T) {
	det := newMockDetector()
	det.errOn = 1
	s := New(det, iface.PolicyCoalesce, 0)
	defer s.Close()

	assert.True(t, s.Submit(frameOfWidth(1)))
	waitFrame(t, det.seen)

	// The failed frame must not wedge the worker.
	assert.True(t, s.Submit(frameOfWidth(2)))
	got := waitFrame(t, det.seen)
	assert.Equal(t, 2, got.Width)
}

func TestPolicyHotSwap(t *testing.T) {
	det := newMockDetector()
	s := New(det, iface.PolicyCoalesce, 0)
	defer s.Close()

	s.SetPolicy(iface.PolicySkip)
	s.SetSkipBudget(1)
	policy, budget := s.Policy()
	assert.Equal(t, iface.PolicySkip, policy)
	assert.Equal(t, 1, budget)

	assert.False(t, s.Submit(frameOfWidth(1)))
	assert.True(t, s.Submit(frameOfWidth(2)))
	got := waitFrame(t, det.seen)
	assert.Equal(t, 2, got.Width)
}

func TestClose(t *testing.T) {
	det := newMockDetector()
	s := New(det, iface.PolicyCoalesce, 0)

	assert.True(t, s.Submit(frameOfWidth(1)))
	waitFrame(t, det.seen)

	s.Close()
	// Close is idempotent and later submissions are refused.
	s.Close()
	assert.False(t, s.Submit(frameOfWidth(2)))
	assertNoFrame(t, det.seen)
}
