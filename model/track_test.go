package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackValidate(t *testing.T) {
	tests := []struct {
		name  string
		track Track
		want  error
	}{
		{"local", Track{SourceKind: SourceLocal, FilePath: "audio/1/a.mp3"}, nil},
		{"video without kind", Track{VideoRef: "dQw4w9WgXcQ"}, nil},
		{"url", Track{SourceKind: SourceURL, ExternalURL: "https://cdn.example.com/a.mp3"}, nil},
		{"none", Track{Title: "empty"}, ErrNoSource},
		{"blank", Track{FilePath: "   "}, ErrNoSource},
		{"two", Track{FilePath: "a.mp3", ExternalURL: "https://x/a.mp3"}, ErrMultipleSources},
		{"mismatch", Track{SourceKind: SourceVideo, FilePath: "a.mp3"}, ErrSourceMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.track.Validate(), tt.want)
		})
	}
}
