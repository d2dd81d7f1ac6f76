package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/warsite/contentpipe/internal/models"
)

const (
	defaultCaptionLanguage = "ru"
	defaultMaxVideos       = 20
)

// videoClient is the part of the YouTube client the fetcher uses.
type videoClient interface {
	GetPlaylistContext(ctx context.Context, url string) (*youtube.Playlist, error)
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
}

// VideoConfig tunes the video feed fetcher.
type VideoConfig struct {
	MaxVideos  int // used when the context carries no limit
	HTTPClient *http.Client
}

// VideoFetcher turns a YouTube playlist (or a single video) into candidates
// whose body is the caption transcript.
type VideoFetcher struct {
	cfg    VideoConfig
	yt     videoClient
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewVideoFetcher creates a video fetcher backed by the public YouTube client.
func NewVideoFetcher(cfg VideoConfig, logger *slog.Logger) *VideoFetcher {
	client := cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient()
	}
	return newVideoFetcher(cfg, &youtube.Client{HTTPClient: client}, client, logger)
}

func newVideoFetcher(cfg VideoConfig, yt videoClient, client *http.Client, logger *slog.Logger) *VideoFetcher {
	if cfg.MaxVideos <= 0 {
		cfg.MaxVideos = defaultMaxVideos
	}
	return &VideoFetcher{cfg: cfg, yt: yt, client: client, logger: logger, now: time.Now}
}

// Fetch lists the source's videos and downloads a transcript for each.
// Videos that fail individually are skipped; the fetch fails only when no
// video could be read.
func (f *VideoFetcher) Fetch(ctx context.Context, source models.Source) ([]models.Candidate, error) {
	ids, err := f.videoIDs(ctx, source.URL)
	if err != nil {
		return nil, newFetchError(source, err)
	}

	lang := source.Language
	if lang == "" {
		lang = defaultCaptionLanguage
	}

	candidates := make([]models.Candidate, 0, len(ids))
	var lastErr error
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		c, err := f.fetchVideo(ctx, source, id, lang)
		if err != nil {
			lastErr = err
			f.logger.Debug("skipping video", "source_id", source.ID, "video_id", id, "error", err)
			continue
		}
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 && lastErr != nil {
		return nil, newFetchError(source, lastErr)
	}
	return candidates, nil
}

func (f *VideoFetcher) videoIDs(ctx context.Context, sourceURL string) ([]string, error) {
	if !strings.Contains(sourceURL, "list=") {
		id, err := youtube.ExtractVideoID(sourceURL)
		if err != nil {
			return nil, fmt.Errorf("invalid video url: %w", err)
		}
		return []string{id}, nil
	}

	playlist, err := f.yt.GetPlaylistContext(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load playlist: %w", err)
	}

	limit := Limit(ctx, f.cfg.MaxVideos)
	ids := make([]string, 0, len(playlist.Videos))
	for _, v := range playlist.Videos {
		if v == nil || v.ID == "" {
			continue
		}
		ids = append(ids, v.ID)
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (f *VideoFetcher) fetchVideo(ctx context.Context, source models.Source, id, lang string) (models.Candidate, error) {
	video, err := f.yt.GetVideoContext(ctx, id)
	if err != nil {
		return models.Candidate{}, fmt.Errorf("failed to load video: %w", err)
	}

	body := ""
	if track := pickCaption(video.CaptionTracks, lang); track != nil {
		data, err := httpGet(ctx, f.client, track.BaseURL)
		if err != nil {
			f.logger.Debug("caption download failed", "video_id", id, "error", err)
		} else if body, err = parseTranscript(data); err != nil {
			f.logger.Debug("caption parse failed", "video_id", id, "error", err)
		}
	}
	if body == "" {
		body = strings.TrimSpace(video.Description)
	}
	if body == "" {
		return models.Candidate{}, errors.New("no transcript or description")
	}

	c := models.Candidate{
		Title:        strings.TrimSpace(video.Title),
		Body:         body,
		Link:         "https://youtu.be/" + id,
		SourceID:     source.ID,
		DiscoveredAt: f.now(),
	}
	if !video.PublishDate.IsZero() {
		t := video.PublishDate
		c.PublishedAt = &t
	}
	if n := len(video.Thumbnails); n > 0 {
		c.MediaRef = video.Thumbnails[n-1].URL
	}
	return c, nil
}
