package session

import (
	"context"
	"encoding/json"
	"fmt"

	"CadenceFM/core/player"
	"CadenceFM/logger"
	"CadenceFM/model"
)

// 浏览器可发起的意图
const (
	IntentLoadAndPlay       = "loadAndPlay"
	IntentPlayIndex         = "playIndex"
	IntentPlayPlaylist      = "playPlaylist"
	IntentSetQueue          = "setQueue"
	IntentSearch            = "search"
	IntentListTracks        = "listTracks"
	IntentGetState          = "getState"
	IntentTogglePlayPause   = "togglePlayPause"
	IntentSeek              = "seek"
	IntentSetVolume         = "setVolume"
	IntentToggleMute        = "toggleMute"
	IntentSkipNext          = "skipNext"
	IntentSkipPrevious      = "skipPrevious"
	IntentToggleShuffle     = "toggleShuffle"
	IntentCycleRepeatMode   = "cycleRepeatMode"
	IntentToggleVideoViewer = "toggleVideoViewerVisibility"
)

type loadAndPlayParams struct {
	TrackID int64 `json:"trackId"`
	Index   *int  `json:"index,omitempty"`
}

type playIndexParams struct {
	Index int `json:"index"`
}

type playPlaylistParams struct {
	PlaylistID int64 `json:"playlistId"`
	StartIndex int   `json:"startIndex"`
}

type setQueueParams struct {
	TrackIDs []int64 `json:"trackIds"`
}

type searchParams struct {
	Query string          `json:"query"`
	Sort  model.TrackSort `json:"sort"`
}

type seekParams struct {
	Seconds float64 `json:"seconds"`
}

type volumeParams struct {
	Volume float64 `json:"volume"`
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid intent parameters: %w", err)
	}
	return nil
}

// HandleIntent routes one client intent to the orchestrator or the library
// services.
func (s *Session) HandleIntent(ctx context.Context, op string, data json.RawMessage) (interface{}, error) {
	if s.userID <= 0 {
		return nil, ErrUnauthenticated
	}

	switch op {
	case IntentLoadAndPlay:
		var p loadAndPlayParams
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return nil, s.loadAndPlay(ctx, p)
	case IntentPlayIndex:
		var p playIndexParams
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return nil, s.orch.PlayIndex(p.Index)
	case IntentPlayPlaylist:
		var p playPlaylistParams
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return nil, s.playPlaylist(ctx, p)
	case IntentSetQueue:
		var p setQueueParams
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return nil, s.setQueue(ctx, p.TrackIDs)
	case IntentSearch:
		var p searchParams
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return s.deps.Tracks.SearchTracks(ctx, s.userID, p.Query, p.Sort)
	case IntentListTracks:
		var p searchParams
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return s.deps.Tracks.ListTracks(ctx, s.userID, p.Sort)
	case IntentGetState:
		return s.orch.Snapshot(), nil
	case IntentTogglePlayPause:
		return nil, s.orch.TogglePlayPause()
	case IntentSeek:
		var p seekParams
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return nil, s.orch.Seek(p.Seconds)
	case IntentSetVolume:
		var p volumeParams
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return nil, s.orch.SetVolume(p.Volume)
	case IntentToggleMute:
		return nil, s.orch.ToggleMute()
	case IntentSkipNext:
		return nil, s.orch.SkipNext()
	case IntentSkipPrevious:
		return nil, s.orch.SkipPrevious()
	case IntentToggleShuffle:
		return nil, s.orch.ToggleShuffle()
	case IntentCycleRepeatMode:
		return nil, s.orch.CycleRepeatMode()
	case IntentToggleVideoViewer:
		return nil, s.orch.ToggleVideoViewerVisibility()
	}
	logger.Debug("[Session] 未知意图", logger.String("op", op))
	return nil, fmt.Errorf("%w: %s", ErrUnknownIntent, op)
}

func (s *Session) loadAndPlay(ctx context.Context, p loadAndPlayParams) error {
	t, err := s.deps.Tracks.GetTrackByID(ctx, s.userID, p.TrackID)
	if err != nil {
		return fmt.Errorf("failed to get track %d: %w", p.TrackID, err)
	}
	if t == nil {
		return fmt.Errorf("%w: %d", ErrTrackNotFound, p.TrackID)
	}
	index := player.NoIndex
	if p.Index != nil {
		index = *p.Index
	}
	return s.orch.LoadAndPlay(t, index)
}

func (s *Session) playPlaylist(ctx context.Context, p playPlaylistParams) error {
	pl, err := s.deps.Playlists.GetPlaylist(ctx, s.userID, p.PlaylistID)
	if err != nil {
		return fmt.Errorf("failed to get playlist %d: %w", p.PlaylistID, err)
	}
	if pl == nil {
		return fmt.Errorf("%w: %d", ErrPlaylistNotFound, p.PlaylistID)
	}
	tracks, err := s.deps.Playlists.GetPlaylistTracks(ctx, pl.ID)
	if err != nil {
		return err
	}
	if len(tracks) == 0 {
		return ErrEmptyPlaylist
	}
	if err := s.orch.SetQueue(tracks); err != nil {
		return err
	}
	return s.orch.PlayIndex(p.StartIndex)
}

func (s *Session) setQueue(ctx context.Context, ids []int64) error {
	tracks, err := s.deps.Tracks.GetTracksByIDs(ctx, s.userID, ids)
	if err != nil {
		return fmt.Errorf("failed to get queue tracks: %w", err)
	}
	return s.orch.SetQueue(tracks)
}
