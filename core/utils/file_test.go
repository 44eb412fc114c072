package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAudioFile(t *testing.T) {
	assert.True(t, IsAudioFile("song.MP3"))
	assert.True(t, IsAudioFile("/music/a.flac"))
	assert.False(t, IsAudioFile("cover.jpg"))
	assert.False(t, IsAudioFile("noext"))
}

func TestAudioContentType(t *testing.T) {
	assert.Equal(t, "audio/mpeg", AudioContentType("a.mp3"))
	assert.Equal(t, "audio/mp4", AudioContentType("a.M4A"))
	assert.Equal(t, "application/octet-stream", AudioContentType("a.txt"))
}

func TestImageExt(t *testing.T) {
	assert.Equal(t, "jpg", ImageExt("image/jpeg"))
	assert.Equal(t, "png", ImageExt(" IMAGE/PNG "))
	assert.Empty(t, ImageExt("application/pdf"))
}

func TestTitleFromFileName(t *testing.T) {
	cases := map[string]string{
		"/music/My_Song.mp3":           "My Song",
		`C:\music\Live  at__Home.flac`: "Live at Home",
		"plain":                        "plain",
		"":                             "",
	}
	for in, want := range cases {
		assert.Equal(t, want, TitleFromFileName(in), in)
	}
}
