// Package stream resolves HLS playlists into segment lists and downloads
// segments with bounded retries.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/grafov/m3u8"
)

// ErrUnavailable covers unreachable hosts, timeouts and malformed playlists.
// Callers treat it as transient.
var ErrUnavailable = errors.New("stream unavailable")

// Segment is one addressable chunk of the live stream
type Segment struct {
	URI             string
	Sequence        uint64
	Duration        time.Duration
	ProgramDateTime time.Time
}

// Manifest is the current window of a media playlist
type Manifest struct {
	MediaURL       string
	Segments       []Segment
	TargetDuration time.Duration
	// FrameRate comes from the master playlist variant; 0 when unknown.
	FrameRate float64
}

// Source fetches and parses playlists
type Source struct {
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
}

// NewSource returns a Source bounding every playlist request by timeout
func NewSource(client *http.Client, timeout time.Duration) *Source {
	if client == nil {
		client = http.DefaultClient
	}
	return &Source{client: client, timeout: timeout, now: time.Now}
}

// Resolve follows the first variant of a master playlist to its media
// playlist. A media playlist URL is accepted directly.
func (s *Source) Resolve(ctx context.Context, streamURL string) (*Manifest, error) {
	base, err := url.Parse(streamURL)
	if err != nil {
		return nil, unavailable(streamURL, err)
	}

	pl, kind, err := s.fetch(ctx, base)
	if err != nil {
		return nil, err
	}

	var frameRate float64
	mediaURL := base
	if kind == m3u8.MASTER {
		master := pl.(*m3u8.MasterPlaylist)
		if len(master.Variants) == 0 || master.Variants[0] == nil {
			return nil, unavailable(streamURL, errors.New("master playlist has no variants"))
		}
		variant := master.Variants[0]
		frameRate = variant.FrameRate
		if mediaURL, err = base.Parse(variant.URI); err != nil {
			return nil, unavailable(streamURL, fmt.Errorf("bad variant uri %q: %w", variant.URI, err))
		}
		if pl, kind, err = s.fetch(ctx, mediaURL); err != nil {
			return nil, err
		}
		if kind != m3u8.MEDIA {
			return nil, unavailable(mediaURL.String(), errors.New("variant is not a media playlist"))
		}
	}

	media := pl.(*m3u8.MediaPlaylist)
	m := &Manifest{
		MediaURL:       mediaURL.String(),
		TargetDuration: seconds(media.TargetDuration),
		FrameRate:      frameRate,
	}

	// Segments without their own EXT-X-PROGRAM-DATE-TIME continue from the
	// previous one. Without any tag the fetch time anchors the window.
	var anchor time.Time
	for i, ms := range media.Segments {
		if ms == nil {
			break
		}
		u, err := mediaURL.Parse(ms.URI)
		if err != nil {
			return nil, unavailable(m.MediaURL, fmt.Errorf("bad segment uri %q: %w", ms.URI, err))
		}
		seg := Segment{
			URI:             u.String(),
			Sequence:        media.SeqNo + uint64(i),
			Duration:        seconds(ms.Duration),
			ProgramDateTime: ms.ProgramDateTime,
		}
		if ms.SeqId != 0 {
			seg.Sequence = ms.SeqId
		}
		if seg.ProgramDateTime.IsZero() {
			if anchor.IsZero() {
				anchor = s.now()
			}
			seg.ProgramDateTime = anchor
		}
		anchor = seg.ProgramDateTime.Add(seg.Duration)
		m.Segments = append(m.Segments, seg)
	}
	return m, nil
}

func (s *Source) fetch(ctx context.Context, u *url.URL) (m3u8.Playlist, m3u8.ListType, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, unavailable(u.String(), err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, unavailable(u.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, 0, unavailable(u.String(), fmt.Errorf("status %d", resp.StatusCode))
	}

	pl, kind, err := m3u8.DecodeFrom(resp.Body, false)
	if err != nil {
		return nil, 0, unavailable(u.String(), fmt.Errorf("malformed playlist: %w", err))
	}
	return pl, kind, nil
}

// unavailable keeps the context error visible next to ErrUnavailable so
// callers can tell shutdown from an offline camera.
func unavailable(target string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, target, err)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
