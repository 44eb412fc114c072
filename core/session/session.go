package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"CadenceFM/cache"
	"CadenceFM/core/bridge"
	"CadenceFM/core/player"
	"CadenceFM/logger"
	"CadenceFM/model"
)

var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrTrackNotFound    = errors.New("track not found")
	ErrPlaylistNotFound = errors.New("playlist not found")
	ErrEmptyPlaylist    = errors.New("playlist is empty")
	ErrUnknownIntent    = errors.New("unknown intent")
)

// TrackService 曲目查询，结果按用户隔离
type TrackService interface {
	GetTrackByID(ctx context.Context, userID, id int64) (*model.Track, error)
	GetTracksByIDs(ctx context.Context, userID int64, ids []int64) ([]*model.Track, error)
	SearchTracks(ctx context.Context, userID int64, query string, sort model.TrackSort) ([]*model.Track, error)
	ListTracks(ctx context.Context, userID int64, sort model.TrackSort) ([]*model.Track, error)
}

// PlaylistService 歌单查询
type PlaylistService interface {
	GetPlaylist(ctx context.Context, userID, id int64) (*model.Playlist, error)
	GetPlaylistTracks(ctx context.Context, playlistID int64) ([]*model.Track, error)
}

// SnapshotStore 保存断线恢复用的播放快照
type SnapshotStore interface {
	SavePlayback(ctx context.Context, userID int64, snap *cache.PlaybackSnapshot) error
	LoadPlayback(ctx context.Context, userID int64) (*cache.PlaybackSnapshot, error)
}

// Transport is the browser side of a session.
type Transport interface {
	player.MediaElementFactory
	player.EmbedPlatform
	Push(t bridge.MessageType, data interface{}) error
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Tracks    TrackService
	Playlists PlaylistService
	Snapshots SnapshotStore
	Assets    player.AssetResolver
}

// Options tunes a session. Zero values select defaults.
type Options struct {
	LoadTimeout       time.Duration
	EmbedPollInterval time.Duration
	SnapshotRate      rate.Limit
	PersistTimeout    time.Duration
}

const (
	defaultSnapshotRate   = rate.Limit(1)
	defaultPersistTimeout = 3 * time.Second
)

// Session is one listener's playback: an orchestrator driving the page
// behind a Transport, plus persistence of its state.
type Session struct {
	userID    int64
	deps      Deps
	transport Transport
	orch      *player.Orchestrator

	limiter        *rate.Limiter
	persistEvery   time.Duration
	persistTimeout time.Duration

	updates   <-chan player.Update
	unsub     func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New builds a session for userID. It does not restore any saved state;
// call Restore for that.
func New(userID int64, transport Transport, deps Deps, opts Options) (*Session, error) {
	if userID <= 0 {
		return nil, ErrUnauthenticated
	}
	if opts.SnapshotRate <= 0 {
		opts.SnapshotRate = defaultSnapshotRate
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}

	native := player.NewNativeAdapter(transport)
	embedded := player.NewEmbeddedAdapter(transport, opts.EmbedPollInterval)
	s := &Session{
		userID:    userID,
		deps:      deps,
		transport: transport,
		orch: player.New(native, embedded, player.Options{
			Assets:      deps.Assets,
			LoadTimeout: opts.LoadTimeout,
		}),
		limiter:        rate.NewLimiter(opts.SnapshotRate, 1),
		persistEvery:   time.Duration(float64(time.Second) / float64(opts.SnapshotRate)),
		persistTimeout: opts.PersistTimeout,
		done:           make(chan struct{}),
	}
	s.updates, s.unsub = s.orch.Subscribe()

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// UserID returns the owner of the session.
func (s *Session) UserID() int64 { return s.userID }

// State returns the current playback snapshot.
func (s *Session) State() player.State { return s.orch.Snapshot() }

// Close stops the session and persists its final state.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.unsub()
		s.orch.Close()
		s.persist(s.orch.Snapshot())
		logger.Info("[Session] 会话关闭", logger.Int64("userID", s.userID))
	})
}

func (s *Session) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.persistEvery)
	defer ticker.Stop()

	var (
		dirty bool
		last  player.State
	)
	for {
		select {
		case <-s.done:
			return
		case u, ok := <-s.updates:
			if !ok {
				return
			}
			s.push(u)
			last = u.State
			if s.limiter.Allow() {
				s.persist(last)
				dirty = false
			} else {
				dirty = true
			}
		case <-ticker.C:
			if dirty {
				s.persist(last)
				dirty = false
			}
		}
	}
}

func (s *Session) push(u player.Update) {
	if err := s.transport.Push(bridge.MsgTypeState, u.State); err != nil {
		logger.Debug("[Session] 推送状态失败", logger.Int64("userID", s.userID), logger.ErrorField(err))
		return
	}
	if u.Notification != nil {
		if err := s.transport.Push(bridge.MsgTypeNotification, u.Notification); err != nil {
			logger.Debug("[Session] 推送通知失败", logger.Int64("userID", s.userID), logger.ErrorField(err))
		}
	}
}

func (s *Session) persist(st player.State) {
	if s.deps.Snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	if err := s.deps.Snapshots.SavePlayback(ctx, s.userID, snapshotOf(st)); err != nil {
		logger.Warn("[Session] 保存播放快照失败", logger.Int64("userID", s.userID), logger.ErrorField(err))
	}
}

func snapshotOf(st player.State) *cache.PlaybackSnapshot {
	snap := &cache.PlaybackSnapshot{
		QueueTrackIDs: append([]int64(nil), st.QueueTrackIDs...),
		Cursor:        st.QueueIndex,
		Position:      st.Position,
		Volume:        st.Volume,
		Muted:         st.Muted,
		Shuffle:       st.Shuffle,
		Repeat:        string(st.Repeat),
		VideoVisible:  st.VideoVisible,
		UpdatedAt:     time.Now(),
	}
	if st.Track != nil {
		snap.TrackID = st.Track.ID
	}
	return snap
}

// Restore applies the saved snapshot: queue, settings and the current
// track, loaded paused. It never starts output.
func (s *Session) Restore(ctx context.Context) error {
	if s.deps.Snapshots == nil {
		return nil
	}
	snap, err := s.deps.Snapshots.LoadPlayback(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("failed to load playback snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}

	ids := lo.Uniq(append(append([]int64(nil), snap.QueueTrackIDs...), snap.TrackID))
	ids = lo.Without(ids, 0)
	known, err := s.deps.Tracks.GetTracksByIDs(ctx, s.userID, ids)
	if err != nil {
		return fmt.Errorf("failed to load snapshot tracks: %w", err)
	}
	byID := lo.KeyBy(known, func(t *model.Track) int64 { return t.ID })

	// 已删除的曲目直接从队列中剔除
	queue := lo.FilterMap(snap.QueueTrackIDs, func(id int64, _ int) (*model.Track, bool) {
		t, ok := byID[id]
		return t, ok
	})
	if err := s.orch.SetQueue(queue); err != nil {
		return err
	}
	if err := s.orch.SetVolume(snap.Volume); err != nil {
		return err
	}
	if snap.Muted {
		if err := s.orch.ToggleMute(); err != nil {
			return err
		}
	}
	if err := s.orch.SetShuffle(snap.Shuffle); err != nil {
		return err
	}
	if mode := player.RepeatMode(snap.Repeat); mode.Valid() {
		if err := s.orch.SetRepeatMode(mode); err != nil {
			return err
		}
	}
	if snap.VideoVisible {
		if err := s.orch.ToggleVideoViewerVisibility(); err != nil {
			return err
		}
	}

	current, ok := byID[snap.TrackID]
	if !ok {
		return nil
	}
	index := player.NoIndex
	if snap.Cursor >= 0 && snap.Cursor < len(queue) && queue[snap.Cursor].ID == current.ID {
		index = snap.Cursor
	} else if _, i, found := lo.FindIndexOf(queue, func(t *model.Track) bool { return t.ID == current.ID }); found {
		index = i
	}
	if err := s.orch.Restore(current, index, snap.Position); err != nil && !errors.Is(err, player.ErrUnresolvable) {
		return err
	}
	logger.Info("[Session] 已恢复播放快照",
		logger.Int64("userID", s.userID),
		logger.Int64("trackID", current.ID),
		logger.Int("queueLen", len(queue)),
	)
	return nil
}
