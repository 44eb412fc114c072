package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CadenceFM/core/player"
)

func newTestHub(t *testing.T) (*Hub, *fakeSnapshots) {
	t.Helper()
	snaps := newFakeSnapshots()
	h := NewHub(Deps{Tracks: library(), Snapshots: snaps, Assets: testAssets}, Options{})
	go h.Run()
	t.Cleanup(h.Stop)
	return h, snaps
}

func serve(h *Hub, userID int64, c *fakeConn) <-chan error {
	errs := make(chan error, 1)
	go func() { errs <- h.Serve(context.Background(), userID, c) }()
	return errs
}

func waitRunning(t *testing.T, c *fakeConn) {
	t.Helper()
	select {
	case <-c.running:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never started")
	}
}

func waitServe(t *testing.T, errs <-chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestHubRejectsAnonymous(t *testing.T) {
	h, _ := newTestHub(t)
	c := newFakeConn()
	assert.ErrorIs(t, h.Serve(context.Background(), 0, c), ErrUnauthenticated)
	assert.True(t, c.isClosed())
	assert.Zero(t, h.Count())
}

func TestHubServesIntents(t *testing.T) {
	h, snaps := newTestHub(t)
	c := newFakeConn()
	errs := serve(h, 1, c)
	waitRunning(t, c)

	require.NotNil(t, h.Session(1))
	assert.Equal(t, int64(1), h.Session(1).UserID())
	_, err := c.intentHandler().HandleIntent(context.Background(), IntentLoadAndPlay, raw(map[string]int64{"trackId": 1}))
	require.NoError(t, err)
	assert.Equal(t, 1, c.mounts())

	c.Close()
	require.NoError(t, waitServe(t, errs))
	require.Eventually(t, func() bool { return h.Count() == 0 }, time.Second, 5*time.Millisecond)
	snap := snaps.get(1)
	require.NotNil(t, snap)
	assert.Equal(t, int64(1), snap.TrackID)
}

func TestHubReplacesConnectionAndRestores(t *testing.T) {
	h, _ := newTestHub(t)

	first := newFakeConn()
	errs1 := serve(h, 1, first)
	waitRunning(t, first)
	_, err := first.intentHandler().HandleIntent(context.Background(), IntentSetVolume, raw(map[string]float64{"volume": 0.2}))
	require.NoError(t, err)

	second := newFakeConn()
	errs2 := serve(h, 1, second)
	waitRunning(t, second)

	assert.True(t, first.isClosed())
	require.NoError(t, waitServe(t, errs1))
	assert.Equal(t, 1, h.Count())

	// 新会话从旧会话最后保存的快照恢复
	s := h.Session(1)
	require.NotNil(t, s)
	assert.Equal(t, 0.2, s.State().Volume)
	assert.Equal(t, player.StatusIdle, s.State().Status)

	second.Close()
	require.NoError(t, waitServe(t, errs2))
	require.Eventually(t, func() bool { return h.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubKeepsUsersApart(t *testing.T) {
	h, _ := newTestHub(t)
	a, b := newFakeConn(), newFakeConn()
	errsA, errsB := serve(h, 1, a), serve(h, 2, b)
	waitRunning(t, a)
	waitRunning(t, b)

	assert.Equal(t, 2, h.Count())
	assert.False(t, a.isClosed())

	a.Close()
	b.Close()
	require.NoError(t, waitServe(t, errsA))
	require.NoError(t, waitServe(t, errsB))
}

func TestHubStopClosesConnections(t *testing.T) {
	h, snaps := newTestHub(t)
	c := newFakeConn()
	errs := serve(h, 1, c)
	waitRunning(t, c)

	h.Stop()
	assert.True(t, c.isClosed())
	// Stop 返回时最终快照已经写入
	assert.GreaterOrEqual(t, snaps.count(), 1)
	require.NoError(t, waitServe(t, errs))

	late := newFakeConn()
	assert.ErrorIs(t, h.Serve(context.Background(), 1, late), ErrHubStopped)
	assert.True(t, late.isClosed())
}
