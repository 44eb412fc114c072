package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"CadenceFM/cache"
	"CadenceFM/core/player"
	"CadenceFM/model"
)

const (
	oneURL   = "https://assets.example.com/audio/1/one.mp3"
	threeURL = "https://assets.example.com/audio/1/three.mp3"
)

type sessionFixture struct {
	s     *Session
	tr    *fakeTransport
	snaps *fakeSnapshots
}

func newSessionFixture(t *testing.T, opts Options) *sessionFixture {
	t.Helper()
	f := &sessionFixture{tr: &fakeTransport{}, snaps: newFakeSnapshots()}
	deps := Deps{
		Tracks: library(),
		Playlists: &fakePlaylists{
			playlists: map[int64]*model.Playlist{
				5: {ID: 5, UserID: 1, Name: "Mix"},
				6: {ID: 6, UserID: 2, Name: "Theirs"},
				7: {ID: 7, UserID: 1, Name: "Empty"},
			},
			entries: map[int64][]*model.Track{
				5: {library().tracks[1], library().tracks[2]},
			},
		},
		Snapshots: f.snaps,
		Assets:    testAssets,
	}
	s, err := New(1, f.tr, deps, opts)
	require.NoError(t, err)
	f.s = s
	t.Cleanup(s.Close)
	return f
}

func (f *sessionFixture) intent(t *testing.T, op string, params interface{}) (interface{}, error) {
	t.Helper()
	var data json.RawMessage
	if params != nil {
		data = raw(params)
	}
	return f.s.HandleIntent(context.Background(), op, data)
}

func TestNewRequiresUser(t *testing.T) {
	_, err := New(0, &fakeTransport{}, Deps{}, Options{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLoadAndPlayIntent(t *testing.T) {
	f := newSessionFixture(t, Options{})
	_, err := f.intent(t, IntentLoadAndPlay, map[string]int64{"trackId": 1})
	require.NoError(t, err)
	assert.Equal(t, "mount:"+oneURL, f.tr.allOps()[0])

	f.tr.listener(0).MediaReady(100)
	st := f.s.State()
	assert.Equal(t, player.StatusPlaying, st.Status)
	assert.Equal(t, int64(1), st.Track.ID)
	assert.Contains(t, f.tr.allOps(), oneURL+":play")

	// 状态变化推送到浏览器
	require.Eventually(t, func() bool {
		_, ok := lo.Find(f.tr.states(), func(s player.State) bool { return s.Status == player.StatusPlaying })
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestLoadAndPlayIsUserScoped(t *testing.T) {
	f := newSessionFixture(t, Options{})
	_, err := f.intent(t, IntentLoadAndPlay, map[string]int64{"trackId": 9})
	assert.ErrorIs(t, err, ErrTrackNotFound)
	assert.Zero(t, f.tr.mounts())
}

func TestLoadAndPlayUnresolvableNotifies(t *testing.T) {
	f := newSessionFixture(t, Options{})
	_, err := f.intent(t, IntentLoadAndPlay, map[string]int64{"trackId": 5})
	assert.ErrorIs(t, err, player.ErrUnresolvable)
	assert.Equal(t, player.StatusIdle, f.s.State().Status)

	require.Eventually(t, func() bool {
		return len(f.tr.notifications()) == 1
	}, time.Second, 5*time.Millisecond)
	n := f.tr.notifications()[0]
	assert.Equal(t, player.NotifyUnresolvable, n.Kind)
	assert.Equal(t, int64(5), n.TrackID)
}

func TestPlayPlaylistIntent(t *testing.T) {
	f := newSessionFixture(t, Options{})

	_, err := f.intent(t, IntentPlayPlaylist, map[string]int64{"playlistId": 5, "startIndex": 1})
	require.NoError(t, err)
	st := f.s.State()
	assert.Equal(t, []int64{2, 3}, st.QueueTrackIDs)
	assert.Equal(t, 1, st.QueueIndex)
	assert.Equal(t, "mount:"+threeURL, f.tr.allOps()[0])

	_, err = f.intent(t, IntentPlayPlaylist, map[string]int64{"playlistId": 6})
	assert.ErrorIs(t, err, ErrPlaylistNotFound)
	_, err = f.intent(t, IntentPlayPlaylist, map[string]int64{"playlistId": 7})
	assert.ErrorIs(t, err, ErrEmptyPlaylist)
	_, err = f.intent(t, IntentPlayPlaylist, map[string]int64{"playlistId": 5, "startIndex": 4})
	assert.ErrorIs(t, err, player.ErrIndexOutOfRange)
}

func TestSetQueueAndSkip(t *testing.T) {
	f := newSessionFixture(t, Options{})

	_, err := f.intent(t, IntentSetQueue, map[string][]int64{"trackIds": {3, 1, 99, 9}})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, f.s.State().QueueTrackIDs)

	_, err = f.intent(t, IntentPlayIndex, map[string]int{"index": 0})
	require.NoError(t, err)
	_, err = f.intent(t, IntentSkipNext, nil)
	require.NoError(t, err)

	st := f.s.State()
	assert.Equal(t, 1, st.QueueIndex)
	assert.Equal(t, int64(1), st.Track.ID)
	assert.Equal(t, []string{"mount:" + threeURL, "mount:" + oneURL}, lo.Filter(f.tr.allOps(), func(op string, _ int) bool {
		return len(op) > 6 && op[:6] == "mount:"
	}))

	_, err = f.intent(t, IntentSkipPrevious, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, f.s.State().QueueIndex)
}

func TestControlIntents(t *testing.T) {
	f := newSessionFixture(t, Options{})

	for _, step := range []struct {
		op     string
		params interface{}
	}{
		{IntentSetVolume, map[string]float64{"volume": 0.5}},
		{IntentToggleMute, nil},
		{IntentToggleShuffle, nil},
		{IntentCycleRepeatMode, nil},
		{IntentSeek, map[string]float64{"seconds": 30}},
		{IntentTogglePlayPause, nil},
		{IntentToggleVideoViewer, nil},
	} {
		_, err := f.intent(t, step.op, step.params)
		require.NoError(t, err, step.op)
	}

	out, err := f.intent(t, IntentGetState, nil)
	require.NoError(t, err)
	st, ok := out.(player.State)
	require.True(t, ok)
	assert.Equal(t, 0.5, st.Volume)
	assert.True(t, st.Muted)
	assert.True(t, st.Shuffle)
	assert.Equal(t, player.RepeatQueue, st.Repeat)
	assert.True(t, st.VideoVisible)
	assert.Equal(t, player.StatusIdle, st.Status)
	assert.Zero(t, st.Position)
	assert.Zero(t, f.tr.mounts())
}

func TestLibraryIntents(t *testing.T) {
	f := newSessionFixture(t, Options{})

	out, err := f.intent(t, IntentSearch, map[string]string{"query": "Two"})
	require.NoError(t, err)
	tracks := out.([]*model.Track)
	require.Len(t, tracks, 1)
	assert.Equal(t, int64(2), tracks[0].ID)

	out, err = f.intent(t, IntentListTracks, nil)
	require.NoError(t, err)
	assert.Len(t, out.([]*model.Track), 5)
}

func TestBadIntents(t *testing.T) {
	f := newSessionFixture(t, Options{})

	_, err := f.intent(t, "rewind", nil)
	assert.ErrorIs(t, err, ErrUnknownIntent)

	_, err = f.s.HandleIntent(context.Background(), IntentSeek, json.RawMessage(`"soon"`))
	assert.Error(t, err)
}

func TestRestoreAppliesSnapshot(t *testing.T) {
	f := newSessionFixture(t, Options{})
	f.snaps.put(1, &cache.PlaybackSnapshot{
		QueueTrackIDs: []int64{1, 77, 3},
		Cursor:        2,
		TrackID:       3,
		Position:      42,
		Volume:        0.4,
		Muted:         true,
		Shuffle:       true,
		Repeat:        "queue",
	})

	require.NoError(t, f.s.Restore(context.Background()))
	st := f.s.State()
	assert.Equal(t, []int64{1, 3}, st.QueueTrackIDs)
	assert.Equal(t, 1, st.QueueIndex)
	assert.Equal(t, int64(3), st.Track.ID)
	assert.Equal(t, player.StatusLoading, st.Status)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, 0.4, st.Volume)
	assert.True(t, st.Muted)
	assert.True(t, st.Shuffle)
	assert.Equal(t, player.RepeatQueue, st.Repeat)
	assert.Equal(t, float64(42), st.Position)
	assert.Equal(t, []string{
		"mount:" + threeURL,
		threeURL + ":volume:0.4",
		threeURL + ":muted:true",
	}, f.tr.allOps())

	// 恢复后只定位不播放
	f.tr.listener(0).MediaReady(200)
	st = f.s.State()
	assert.Equal(t, player.StatusPaused, st.Status)
	assert.Contains(t, f.tr.allOps(), threeURL+":seek:42")
	assert.NotContains(t, f.tr.allOps(), threeURL+":play")
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	f := newSessionFixture(t, Options{})
	require.NoError(t, f.s.Restore(context.Background()))
	st := f.s.State()
	assert.Equal(t, player.StatusIdle, st.Status)
	assert.Empty(t, st.QueueTrackIDs)
}

func TestRestoreSkipsDeletedCurrentTrack(t *testing.T) {
	f := newSessionFixture(t, Options{})
	f.snaps.put(1, &cache.PlaybackSnapshot{QueueTrackIDs: []int64{1, 2}, Cursor: 1, TrackID: 77, Volume: 1, Repeat: "bogus"})

	require.NoError(t, f.s.Restore(context.Background()))
	st := f.s.State()
	assert.Equal(t, []int64{1, 2}, st.QueueTrackIDs)
	assert.Nil(t, st.Track)
	assert.Equal(t, player.RepeatOff, st.Repeat)
	assert.Zero(t, f.tr.mounts())
}

func TestPersistIsThrottledWithFinalFlush(t *testing.T) {
	f := newSessionFixture(t, Options{SnapshotRate: rate.Limit(1.0 / 3600)})

	_, err := f.intent(t, IntentSetVolume, map[string]float64{"volume": 0.9})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.snaps.count() == 1 }, time.Second, 5*time.Millisecond)

	_, err = f.intent(t, IntentLoadAndPlay, map[string]interface{}{"trackId": 3})
	require.NoError(t, err)
	f.tr.listener(0).MediaReady(200)
	f.tr.listener(0).MediaTimeUpdate(12)
	require.Eventually(t, func() bool {
		_, ok := lo.Find(f.tr.states(), func(s player.State) bool { return s.Position == 12 })
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.snaps.count())

	f.s.Close()
	assert.Equal(t, 2, f.snaps.count())
	snap := f.snaps.get(1)
	assert.Equal(t, int64(3), snap.TrackID)
	assert.Equal(t, float64(12), snap.Position)
	assert.Equal(t, 0.9, snap.Volume)
	assert.Equal(t, -1, snap.Cursor)
	assert.Equal(t, "off", snap.Repeat)
	assert.False(t, snap.UpdatedAt.IsZero())
}
