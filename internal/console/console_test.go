package console

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeViewer records calls and can be told to fail the first n attempts.
type fakeViewer struct {
	mu        sync.Mutex
	failFirst int
	selected  []string
	toasts    []string
}

func (v *fakeViewer) SelectSession(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failFirst > 0 {
		v.failFirst--
		return errors.New("viewer busy")
	}
	v.selected = append(v.selected, id)
	return nil
}

func (v *fakeViewer) ShowToast(msg string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failFirst > 0 {
		v.failFirst--
		return errors.New("viewer busy")
	}
	v.toasts = append(v.toasts, msg)
	return nil
}

func (v *fakeViewer) snapshot() (selected, toasts []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.selected...), append([]string(nil), v.toasts...)
}

func TestDisabled_ExitFiresImmediately(t *testing.T) {
	c := NewDisabled()

	select {
	case code := <-c.OnExit():
		assert.Equal(t, 0, code)
	case <-time.After(time.Second):
		t.Fatal("disabled controller must never block on OnExit")
	}
	assert.False(t, c.Active())

	// All no-ops, callable in any order, any number of times.
	c.SelectSession("s1")
	c.ShowToast("hello")
	c.Kill()
	c.Kill()
}

func TestExternal_AttachesAndReplaysPendingSelection(t *testing.T) {
	v := &fakeViewer{}
	var hint bytes.Buffer

	dialCount := 0
	var mu sync.Mutex
	c := NewExternal(func() (Viewer, error) {
		mu.Lock()
		defer mu.Unlock()
		dialCount++
		if dialCount < 2 {
			return nil, errors.New("no viewer yet")
		}
		return v, nil
	}, &hint)
	defer c.Kill()

	assert.Contains(t, hint.String(), "planloop attach")
	assert.False(t, c.Active())

	// Selection before attach is remembered, not lost.
	c.SelectSession("sess-7")

	require.Eventually(t, c.Active, 10*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		selected, _ := v.snapshot()
		return len(selected) == 1 && selected[0] == "sess-7"
	}, 5*time.Second, 20*time.Millisecond)

	c.ShowToast("phase 2 started")
	_, toasts := v.snapshot()
	assert.Equal(t, []string{"phase 2 started"}, toasts)
}

func TestExternal_BestEffortBeforeAttach(t *testing.T) {
	c := NewExternal(func() (Viewer, error) {
		return nil, errors.New("never attaches")
	}, nil)
	defer c.Kill()

	// Must not block or panic with no viewer present.
	c.ShowToast("nobody is listening")
	assert.False(t, c.Active())
}

func TestExternal_KillStopsAttachLoop(t *testing.T) {
	c := NewExternal(func() (Viewer, error) {
		return nil, errors.New("down")
	}, nil)

	c.Kill()
	c.Kill() // idempotent
	assert.False(t, c.Active())
}

func TestTryViewer_RetriesThenSwallows(t *testing.T) {
	attempts := 0
	tryViewer(func() error {
		attempts++
		return errors.New("always fails")
	})
	// Initial attempt plus one per schedule entry, then give up.
	assert.Equal(t, 1+len(retrySchedule), attempts)

	v := &fakeViewer{failFirst: 1}
	tryViewer(func() error { return v.SelectSession("s") })
	selected, _ := v.snapshot()
	assert.Equal(t, []string{"s"}, selected)
}

func TestOwned_InheritsExitCode(t *testing.T) {
	c, err := NewOwned([]string{"sh", "-c", "exit 4"}, nil)
	require.NoError(t, err)

	select {
	case code := <-c.OnExit():
		assert.Equal(t, 4, code)
	case <-time.After(5 * time.Second):
		t.Fatal("owned viewer exit not observed")
	}
	assert.False(t, c.Active())
}

func TestOwned_KillTerminatesViewer(t *testing.T) {
	c, err := NewOwned([]string{"sh", "-c", "sleep 60"}, nil)
	require.NoError(t, err)
	assert.True(t, c.Active())

	start := time.Now()
	c.Kill()
	assert.Less(t, time.Since(start), 10*time.Second)

	select {
	case <-c.OnExit():
	case <-time.After(5 * time.Second):
		t.Fatal("killed viewer never reported exit")
	}
}

func TestOwned_ForwardsToViewerInterface(t *testing.T) {
	v := &fakeViewer{}
	c, err := NewOwned([]string{"sh", "-c", "sleep 1"}, v)
	require.NoError(t, err)
	defer c.Kill()

	c.SelectSession("sess-1")
	c.ShowToast("hi")
	selected, toasts := v.snapshot()
	assert.Equal(t, []string{"sess-1"}, selected)
	assert.Equal(t, []string{"hi"}, toasts)
}
