package player

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"CadenceFM/model"
)

// Kind identifies which adapter plays a resolved source.
type Kind string

const (
	KindNative   Kind = "native"
	KindEmbedded Kind = "embedded"
)

// ErrUnresolvable is wrapped by every Resolve failure.
var ErrUnresolvable = errors.New("unresolvable source")

// Resolution is a canonical playable reference: a URL for the native
// adapter or a platform video id for the embedded one.
type Resolution struct {
	Kind Kind   `json:"kind"`
	Ref  string `json:"ref"`
}

// AssetResolver turns a stored file reference into a fetchable URL.
type AssetResolver interface {
	AssetURL(path string) (string, error)
}

// AssetResolverFunc adapts a plain function to AssetResolver.
type AssetResolverFunc func(path string) (string, error)

func (f AssetResolverFunc) AssetURL(path string) (string, error) { return f(path) }

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

func unresolvable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnresolvable, fmt.Sprintf(format, args...))
}

// Resolve picks the adapter kind and playable reference for t.
func Resolve(t *model.Track, assets AssetResolver) (Resolution, error) {
	if t == nil {
		return Resolution{}, unresolvable("no track")
	}
	if err := t.Validate(); err != nil {
		return Resolution{}, unresolvable("track %d: %v", t.ID, err)
	}

	switch {
	case strings.TrimSpace(t.FilePath) != "":
		if assets == nil {
			return Resolution{}, unresolvable("track %d: no asset resolver", t.ID)
		}
		u, err := assets.AssetURL(strings.TrimSpace(t.FilePath))
		if err != nil {
			return Resolution{}, unresolvable("track %d: %v", t.ID, err)
		}
		if u == "" {
			return Resolution{}, unresolvable("track %d: empty asset url", t.ID)
		}
		return Resolution{Kind: KindNative, Ref: u}, nil

	case strings.TrimSpace(t.VideoRef) != "":
		id, ok := ParseVideoID(t.VideoRef)
		if !ok {
			return Resolution{}, unresolvable("track %d: malformed video reference %q", t.ID, t.VideoRef)
		}
		return Resolution{Kind: KindEmbedded, Ref: id}, nil

	default:
		u, err := url.Parse(strings.TrimSpace(t.ExternalURL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Resolution{}, unresolvable("track %d: bad external url %q", t.ID, t.ExternalURL)
		}
		// 指向视频平台的外链走内嵌播放器
		if id, ok := videoIDFromURL(u); ok {
			return Resolution{Kind: KindEmbedded, Ref: id}, nil
		}
		return Resolution{Kind: KindNative, Ref: u.String()}, nil
	}
}

// ParseVideoID extracts an 11 character video id from a bare id or any of
// the common watch/share/embed URL shapes.
func ParseVideoID(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if videoIDPattern.MatchString(ref) {
		return ref, true
	}
	if !strings.Contains(ref, "://") {
		ref = "https://" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	return videoIDFromURL(u)
}

func videoIDFromURL(u *url.URL) (string, bool) {
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	var id string
	switch host {
	case "youtu.be":
		if len(segments) > 0 {
			id = segments[0]
		}
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if len(segments) == 1 && segments[0] == "watch" {
			id = u.Query().Get("v")
			break
		}
		if len(segments) >= 2 {
			switch segments[0] {
			case "embed", "shorts", "live", "v":
				id = segments[1]
			}
		}
	default:
		return "", false
	}

	if !videoIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}
