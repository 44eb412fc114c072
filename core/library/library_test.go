package library

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"CadenceFM/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type object struct {
	contentType string
	data        []byte
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]object
	failOn  string
	removed []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]object)}
}

func (s *fakeStore) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && filepath.Dir(key) == s.failOn {
		return errors.New("store unavailable")
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	s.objects[key] = object{contentType: contentType, data: data}
	return nil
}

func (s *fakeStore) RemoveObject(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.removed = append(s.removed, key)
	return nil
}

func (s *fakeStore) get(key string) (object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	return o, ok
}

type fakeTracks struct {
	mu     sync.Mutex
	nextID int64
	tracks []*model.Track
	fail   error
}

func (f *fakeTracks) CreateTrack(ctx context.Context, t *model.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if err := t.Validate(); err != nil {
		return err
	}
	f.nextID++
	t.ID = f.nextID
	f.tracks = append(f.tracks, t)
	return nil
}

func (f *fakeTracks) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracks)
}

func newTestImporter(store *fakeStore, tracks *fakeTracks) *Importer {
	imp := NewImporter(store, tracks)
	var mu sync.Mutex
	n := 0
	imp.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return imp
}

// ID3v2.3 标签构造
func id3Frame(id string, data []byte) []byte {
	b := []byte(id)
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	b = append(b, 0, 0)
	return append(b, data...)
}

func textFrame(id, text string) []byte {
	return id3Frame(id, append([]byte{0}, text...))
}

func apicFrame(mime string, data []byte) []byte {
	b := []byte{0}
	b = append(b, mime...)
	b = append(b, 0, 3, 0)
	return id3Frame("APIC", append(b, data...))
}

var fakeAudio = bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x64}, 64)

func taggedMP3(frames ...[]byte) []byte {
	body := bytes.Join(frames, nil)
	body = append(body, make([]byte, 16)...) // padding
	n := len(body)
	out := []byte{'I', 'D', '3', 3, 0, 0, byte(n >> 21 & 0x7f), byte(n >> 14 & 0x7f), byte(n >> 7 & 0x7f), byte(n & 0x7f)}
	out = append(out, body...)
	return append(out, fakeAudio...)
}

func TestImportFileWithTags(t *testing.T) {
	store, tracks := newFakeStore(), &fakeTracks{}
	imp := newTestImporter(store, tracks)
	cover := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	data := taggedMP3(
		textFrame("TIT2", "Northern Lights"),
		textFrame("TPE1", "Aurora"),
		textFrame("TALB", "Skies"),
		apicFrame("image/png", cover),
	)

	track, err := imp.ImportFile(context.Background(), 7, "/uploads/raw_file.mp3", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), track.ID)
	assert.Equal(t, "Northern Lights", track.Title)
	assert.Equal(t, "Aurora", track.Artist)
	assert.Equal(t, "Skies", track.Album)
	assert.Equal(t, model.SourceLocal, track.SourceKind)
	assert.Equal(t, "audio/7/id-1.mp3", track.FilePath)
	assert.Equal(t, "covers/7/id-1.png", track.CoverArtPath)

	audio, ok := store.get("audio/7/id-1.mp3")
	require.True(t, ok)
	assert.Equal(t, "audio/mpeg", audio.contentType)
	assert.Equal(t, data, audio.data)

	img, ok := store.get("covers/7/id-1.png")
	require.True(t, ok)
	assert.Equal(t, "image/png", img.contentType)
	assert.Equal(t, cover, img.data)
}

func TestImportFileFallsBackToFileName(t *testing.T) {
	store, tracks := newFakeStore(), &fakeTracks{}
	imp := newTestImporter(store, tracks)
	data := append([]byte("not a tagged file at all"), fakeAudio...)

	track, err := imp.ImportFile(context.Background(), 7, "Late_Night_Demo.flac", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, "Late Night Demo", track.Title)
	assert.Empty(t, track.Artist)
	assert.Empty(t, track.CoverArtPath)
	audio, ok := store.get("audio/7/id-1.flac")
	require.True(t, ok)
	assert.Equal(t, "audio/flac", audio.contentType)
}

func TestImportFileRejects(t *testing.T) {
	imp := newTestImporter(newFakeStore(), &fakeTracks{})
	data := bytes.NewReader(fakeAudio)

	_, err := imp.ImportFile(context.Background(), 0, "a.mp3", data, int64(len(fakeAudio)))
	assert.ErrorIs(t, err, ErrNoUser)
	_, err = imp.ImportFile(context.Background(), 1, "notes.txt", data, int64(len(fakeAudio)))
	assert.ErrorIs(t, err, ErrUnsupportedFile)
}

func TestImportFileCoverFailureIsNotFatal(t *testing.T) {
	store, tracks := newFakeStore(), &fakeTracks{}
	store.failOn = "covers/3"
	imp := newTestImporter(store, tracks)
	data := taggedMP3(textFrame("TIT2", "Song"), apicFrame("image/jpeg", []byte{1, 2, 3}))

	track, err := imp.ImportFile(context.Background(), 3, "s.mp3", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Empty(t, track.CoverArtPath)
	assert.Equal(t, 1, tracks.count())
}

func TestImportFileCleansUpWhenCreateFails(t *testing.T) {
	store, tracks := newFakeStore(), &fakeTracks{fail: errors.New("db down")}
	imp := newTestImporter(store, tracks)

	_, err := imp.ImportFile(context.Background(), 3, "s.mp3", bytes.NewReader(fakeAudio), int64(len(fakeAudio)))
	require.Error(t, err)
	assert.Equal(t, []string{"audio/3/id-1.mp3"}, store.removed)
	_, ok := store.get("audio/3/id-1.mp3")
	assert.False(t, ok)
}

func TestImportLink(t *testing.T) {
	tracks := &fakeTracks{}
	imp := newTestImporter(newFakeStore(), tracks)
	ctx := context.Background()

	video, err := imp.ImportLink(ctx, 2, "", "Rick", " https://youtu.be/dQw4w9WgXcQ ")
	require.NoError(t, err)
	assert.Equal(t, model.SourceVideo, video.SourceKind)
	assert.Equal(t, "https://youtu.be/dQw4w9WgXcQ", video.VideoRef)
	assert.Equal(t, "dQw4w9WgXcQ", video.Title)
	assert.Equal(t, "Rick", video.Artist)

	stream, err := imp.ImportLink(ctx, 2, "", "", "https://radio.example.com/live/late_show.mp3")
	require.NoError(t, err)
	assert.Equal(t, model.SourceURL, stream.SourceKind)
	assert.Equal(t, "late show", stream.Title)

	bare, err := imp.ImportLink(ctx, 2, "Station", "", "http://radio.example.com")
	require.NoError(t, err)
	assert.Equal(t, "Station", bare.Title)

	for _, link := range []string{"", "ftp://files.example.com/a.mp3", "just some words", "https://"} {
		_, err := imp.ImportLink(ctx, 2, "", "", link)
		assert.ErrorIs(t, err, ErrUnsupportedLink, link)
	}
	_, err = imp.ImportLink(ctx, 0, "", "", "https://youtu.be/dQw4w9WgXcQ")
	assert.ErrorIs(t, err, ErrNoUser)
	assert.Equal(t, 3, tracks.count())
}

func TestImportDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp3"), fakeAudio, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.ogg"), fakeAudio, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte{1}, 0o644))

	tracks := &fakeTracks{}
	imp := newTestImporter(newFakeStore(), tracks)
	got, err := imp.ImportDir(context.Background(), 4, dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{got[0].Title, got[1].Title})
}

func TestWatcherImportsNewFiles(t *testing.T) {
	dir := t.TempDir()
	tracks := &fakeTracks{}
	w := NewWatcher(newTestImporter(newFakeStore(), tracks), dir, 5)
	w.settle = 20 * time.Millisecond

	type result struct {
		path  string
		track *model.Track
		err   error
	}
	results := make(chan result, 4)
	w.OnImport = func(path string, track *model.Track, err error) {
		select {
		case results <- result{path, track, err}:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// fsnotify 注册完成前写入的文件收不到事件，每次重试写一个新文件
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))
	var (
		r       result
		written []string
	)
	require.Eventually(t, func() bool {
		select {
		case r = <-results:
			return true
		default:
			path := filepath.Join(dir, fmt.Sprintf("Fresh_Take_%d.mp3", len(written)+1))
			written = append(written, path)
			os.WriteFile(path, fakeAudio, 0o644)
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, r.err)
	assert.Contains(t, written, r.path)
	assert.Equal(t, "Fresh Take "+strings.TrimSuffix(strings.TrimPrefix(filepath.Base(r.path), "Fresh_Take_"), ".mp3"), r.track.Title)
	assert.Equal(t, int64(5), r.track.UserID)
}
