package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/warsite/contentpipe/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var longParagraph = strings.Repeat("Engineers restored the damaged railway bridge over the river after three weeks of continuous repair work. ", 6)

func articlePage() string {
	return `<!DOCTYPE html><html><head><title>Bridge restored</title>
<meta property="og:image" content="https://cdn.example.com/bridge.jpg"></head>
<body><nav><a href="/">Home</a></nav><article><h1>Bridge restored</h1>
<p>` + longParagraph + `</p><p>` + longParagraph + `</p><p>Traffic resumed on Friday morning.</p></article>
<footer>Copyright</footer></body></html>`
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing user agent")
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>News</title>
<item><title>Bridge restored</title><link>%[1]s/articles/1</link>
<description>Short teaser</description><pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate></item>
<item><title>Long story</title><link>%[1]s/articles/2</link>
<description><![CDATA[<p>%[2]s</p><p>Second paragraph.</p>]]></description>
<enclosure url="https://cdn.example.com/long.png" type="image/png" length="10"/></item>
<item><title>No link</title><description>dropped</description></item>
</channel></rss>`, srv.URL, longParagraph)
	})
	mux.HandleFunc("/articles/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, articlePage())
	})
	mux.HandleFunc("/articles/2", func(w http.ResponseWriter, r *http.Request) {
		t.Error("long items should not trigger a page download")
	})
	mux.HandleFunc("/broken.xml", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "this is not a feed")
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFeedFetcher(t *testing.T) {
	srv := feedServer(t)
	f := NewFeedFetcher(FeedConfig{}, testLogger())

	got, err := f.Fetch(context.Background(), models.Source{ID: "news", URL: srv.URL + "/feed.xml", Kind: models.SourceKindTextFeed})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}

	short := got[0]
	if short.SourceID != "news" || short.Title != "Bridge restored" {
		t.Errorf("unexpected candidate %+v", short)
	}
	if !strings.Contains(short.Body, "Engineers restored the damaged railway bridge") || len(short.Body) < 500 {
		t.Errorf("short body was not replaced by page text: %q", short.Body)
	}
	if short.MediaRef != "https://cdn.example.com/bridge.jpg" {
		t.Errorf("media ref = %q, want og:image", short.MediaRef)
	}
	if short.PublishedAt == nil || short.PublishedAt.Year() != 2006 {
		t.Errorf("published at = %v", short.PublishedAt)
	}

	long := got[1]
	if !strings.Contains(long.Body, "\n\nSecond paragraph.") {
		t.Errorf("paragraphs not preserved: %q", long.Body)
	}
	if strings.Contains(long.Body, "<p>") {
		t.Errorf("html left in body: %q", long.Body)
	}
	if long.MediaRef != "https://cdn.example.com/long.png" {
		t.Errorf("media ref = %q, want enclosure", long.MediaRef)
	}
}

func TestFeedFetcherMaxItems(t *testing.T) {
	srv := feedServer(t)
	f := NewFeedFetcher(FeedConfig{MaxItems: 1}, testLogger())

	got, err := f.Fetch(context.Background(), models.Source{ID: "news", URL: srv.URL + "/feed.xml"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d candidates, want 1", len(got))
	}
}

func TestFetchLimitFromContextOverridesConfig(t *testing.T) {
	srv := feedServer(t)
	f := NewFeedFetcher(FeedConfig{MaxItems: 1}, testLogger())

	got, err := f.Fetch(WithLimit(context.Background(), 50), models.Source{ID: "news", URL: srv.URL + "/feed.xml"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d candidates, want 2 with a raised limit", len(got))
	}

	entries := make([]*youtube.PlaylistEntry, 30)
	for i := range entries {
		entries[i] = &youtube.PlaylistEntry{ID: fmt.Sprintf("v%d", i)}
	}
	vf := newVideoFetcher(VideoConfig{}, &fakeYouTube{playlist: &youtube.Playlist{Videos: entries}}, http.DefaultClient, testLogger())

	tests := []struct {
		name string
		ctx  context.Context
		want int
	}{
		{"config default", context.Background(), defaultMaxVideos},
		{"raised", WithLimit(context.Background(), 25), 25},
		{"lowered", WithLimit(context.Background(), 3), 3},
	}
	for _, tt := range tests {
		ids, err := vf.videoIDs(tt.ctx, "https://www.youtube.com/playlist?list=PL1")
		if err != nil {
			t.Fatalf("%s: videoIDs: %v", tt.name, err)
		}
		if len(ids) != tt.want {
			t.Errorf("%s: got %d ids, want %d", tt.name, len(ids), tt.want)
		}
	}
}

type knownLinks map[string]bool

func (k knownLinks) ExistsByLink(ctx context.Context, link string) (bool, error) {
	return k[link], nil
}

func TestFeedFetcherSkipsEnrichmentForStoredLinks(t *testing.T) {
	srv := feedServer(t)
	f := NewFeedFetcher(FeedConfig{Known: knownLinks{srv.URL + "/articles/1": true}}, testLogger())

	got, err := f.Fetch(context.Background(), models.Source{ID: "news", URL: srv.URL + "/feed.xml"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0].Body != "Short teaser" || got[0].MediaRef != "" {
		t.Errorf("stored item should not be enriched, got body %q media %q", got[0].Body, got[0].MediaRef)
	}
}

func TestFeedFetcherErrors(t *testing.T) {
	srv := feedServer(t)
	f := NewFeedFetcher(FeedConfig{}, testLogger())

	for _, path := range []string{"/broken.xml", "/missing.xml"} {
		_, err := f.Fetch(context.Background(), models.Source{ID: "news", URL: srv.URL + path})
		var fe *FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("%s: expected *FetchError, got %v", path, err)
		}
		if fe.SourceID != "news" {
			t.Errorf("%s: source id = %q", path, fe.SourceID)
		}
	}
}

func TestExternalLink(t *testing.T) {
	html := `<div><a href="https://www.reddit.com/user/x">u/x</a>
<span><a href="https://example.com/article">[link]</a></span></div>`
	got, err := externalLink(html)
	if err != nil || got != "https://example.com/article" {
		t.Fatalf("externalLink() = %q, %v", got, err)
	}
	if _, err := externalLink(`<a href="https://redd.it/abc">x</a>`); err == nil {
		t.Error("expected error when only reddit links are present")
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain   text\r\n\r\n\r\nnext", "plain text\n\nnext"},
		{"<p>One <b>bold</b></p><p>Two</p>", "One bold\n\nTwo"},
		{"<div>Just a <i>div</i></div>", "Just a div"},
		{"<ul><li>a</li><li>b</li></ul><script>x()</script>", "a\n\nb"},
	}
	for _, tt := range tests {
		if got := htmlToText(tt.in); got != tt.want {
			t.Errorf("htmlToText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Fetch(context.Background(), models.Source{ID: "x", Kind: "podcast"})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
}

type stubFetcher struct{ called bool }

func (s *stubFetcher) Fetch(ctx context.Context, source models.Source) ([]models.Candidate, error) {
	s.called = true
	return []models.Candidate{{Link: "x"}}, nil
}

func TestRegistryDispatch(t *testing.T) {
	text, video := &stubFetcher{}, &stubFetcher{}
	r := NewRegistry()
	r.Register(models.SourceKindTextFeed, text)
	r.Register(models.SourceKindVideoFeed, video)

	if _, err := r.Fetch(context.Background(), models.Source{Kind: models.SourceKindVideoFeed}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if text.called || !video.called {
		t.Errorf("dispatch went to the wrong fetcher: text=%v video=%v", text.called, video.called)
	}
}

type fakeYouTube struct {
	playlist *youtube.Playlist
	videos   map[string]*youtube.Video
}

func (f *fakeYouTube) GetPlaylistContext(ctx context.Context, url string) (*youtube.Playlist, error) {
	if f.playlist == nil {
		return nil, errors.New("playlist not found")
	}
	return f.playlist, nil
}

func (f *fakeYouTube) GetVideoContext(ctx context.Context, id string) (*youtube.Video, error) {
	v, ok := f.videos[id]
	if !ok {
		return nil, errors.New("video unavailable")
	}
	return v, nil
}

const captionXML = `<?xml version="1.0" encoding="utf-8" ?><timedtext format="3"><body>
<p t="0" d="1500"><s>Войска</s><s> вошли</s></p>
<p t="1500" d="1000">в город &amp; пригороды</p>
<p t="2500" d="10"></p>
</body></timedtext>`

func TestVideoFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, captionXML)
	}))
	defer srv.Close()

	published := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	yt := &fakeYouTube{
		playlist: &youtube.Playlist{Videos: []*youtube.PlaylistEntry{{ID: "vid1"}, {ID: "vid2"}, {ID: "gone"}}},
		videos: map[string]*youtube.Video{
			"vid1": {
				ID:          "vid1",
				Title:       "Report",
				PublishDate: published,
				Thumbnails:  youtube.Thumbnails{{URL: "https://i.ytimg.com/small.jpg"}, {URL: "https://i.ytimg.com/large.jpg"}},
				CaptionTracks: []youtube.CaptionTrack{
					{BaseURL: srv.URL + "/en", LanguageCode: "en"},
					{BaseURL: srv.URL + "/ru", LanguageCode: "ru"},
				},
			},
			"vid2": {ID: "vid2", Title: "No captions", Description: "Description fallback"},
		},
	}
	f := newVideoFetcher(VideoConfig{}, yt, srv.Client(), testLogger())

	got, err := f.Fetch(context.Background(), models.Source{ID: "yt", URL: "https://www.youtube.com/playlist?list=PL123", Kind: models.SourceKindVideoFeed})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}

	first := got[0]
	if first.Body != "Войска вошли в город & пригороды" {
		t.Errorf("transcript = %q", first.Body)
	}
	if first.Link != "https://youtu.be/vid1" || first.MediaRef != "https://i.ytimg.com/large.jpg" {
		t.Errorf("unexpected candidate %+v", first)
	}
	if first.PublishedAt == nil || !first.PublishedAt.Equal(published) {
		t.Errorf("published at = %v", first.PublishedAt)
	}
	if got[1].Body != "Description fallback" {
		t.Errorf("fallback body = %q", got[1].Body)
	}
}

func TestVideoFetcherFailsWhenNothingReadable(t *testing.T) {
	yt := &fakeYouTube{playlist: &youtube.Playlist{Videos: []*youtube.PlaylistEntry{{ID: "gone"}}}}
	f := newVideoFetcher(VideoConfig{}, yt, http.DefaultClient, testLogger())

	_, err := f.Fetch(context.Background(), models.Source{ID: "yt", URL: "https://www.youtube.com/playlist?list=PL1"})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}

	f = newVideoFetcher(VideoConfig{}, &fakeYouTube{}, http.DefaultClient, testLogger())
	if _, err := f.Fetch(context.Background(), models.Source{ID: "yt", URL: "https://www.youtube.com/playlist?list=PL1"}); !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError for missing playlist, got %v", err)
	}
}

func TestPickCaption(t *testing.T) {
	tracks := []youtube.CaptionTrack{
		{LanguageCode: "de", Kind: "asr"},
		{LanguageCode: "en"},
		{LanguageCode: "ru"},
	}
	if got := pickCaption(tracks, "ru"); got.LanguageCode != "ru" {
		t.Errorf("preferred language not picked: %s", got.LanguageCode)
	}
	if got := pickCaption(tracks, "fr"); got.LanguageCode != "en" {
		t.Errorf("manual track not preferred over asr: %s", got.LanguageCode)
	}
	if pickCaption(nil, "ru") != nil {
		t.Error("expected nil for no tracks")
	}
}
