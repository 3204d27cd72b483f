package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelay(allowed ...string) *Relay {
	return New(Config{
		Logger:        zerolog.New(io.Discard),
		AllowedHosts:  allowed,
		PublicBaseURL: "http://localhost:8080",
	})
}

func TestTargetFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/proxy/?url="+url.QueryEscape("https://cdn.example.com/a.m3u8?token=1&sig=2"), nil)
	got, err := TargetFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.m3u8?token=1&sig=2", got)
}

func TestTargetFromRequest_UnescapedQuery(t *testing.T) {
	// Players sometimes pass the target unescaped, so its own query
	// string leaks into ours.
	r := httptest.NewRequest(http.MethodGet, "/proxy/?url=https://cdn.example.com/a.m3u8?token=1&sig=2", nil)
	got, err := TargetFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.m3u8?token=1&sig=2", got)
}

func TestTargetFromRequest_Missing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/proxy/", nil)
	_, err := TargetFromRequest(r)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		relay   *Relay
		target  string
		wantErr bool
	}{
		{"https allowed host", newTestRelay("cdn.example.com"), "https://cdn.example.com/a.ts", false},
		{"open relay when no allow list", newTestRelay(), "https://anything.example.net/a.ts", false},
		{"host not on list", newTestRelay("cdn.example.com"), "https://evil.example.net/a.ts", true},
		{"ftp scheme", newTestRelay(), "ftp://cdn.example.com/a.ts", true},
		{"no host", newTestRelay(), "https:///a.ts", true},
		{"garbage", newTestRelay(), "://nope", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.relay.Validate(tt.target)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTarget)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServe_RewritesPlaylist(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Referer"))
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla")
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:10,\nseg0.ts\n#EXTINF:10,\nhttps://other.example.com/seg1.ts\n#EXT-X-ENDLIST\n")
	}))
	defer upstream.Close()

	relay := newTestRelay()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/proxy/", nil)

	target := upstream.URL + "/live/index.m3u8"
	require.NoError(t, relay.Serve(w, r, target))

	body := w.Body.String()
	assert.Contains(t, body, "#EXTM3U")
	assert.Contains(t, body, "http://localhost:8080/proxy/?url="+url.QueryEscape(upstream.URL+"/live/seg0.ts"))
	assert.Contains(t, body, "http://localhost:8080/proxy/?url="+url.QueryEscape("https://other.example.com/seg1.ts"))
	assert.NotContains(t, body, "\nseg0.ts\n")
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServe_RewriteLearnsSegmentHosts(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		fmt.Fprint(w, "#EXTM3U\nhttps://segments.example.com/0.ts\n")
	}))
	defer upstream.Close()

	u, _ := url.Parse(upstream.URL)
	relay := newTestRelay(u.Hostname())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/proxy/", nil)
	require.NoError(t, relay.Serve(w, r, upstream.URL+"/index.m3u8"))

	// The segment host was not configured but appeared in the playlist.
	assert.True(t, relay.hostAllowed("segments.example.com"))
}

func TestServe_BinaryPassThrough(t *testing.T) {
	payload := strings.Repeat("x", 200*1024)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		io.WriteString(w, payload)
	}))
	defer upstream.Close()

	relay := newTestRelay()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/proxy/", nil)
	require.NoError(t, relay.Serve(w, r, upstream.URL+"/seg0.ts"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.String())
	assert.Equal(t, "video/mp2t", w.Header().Get("Content-Type"))
}

func TestServe_UpstreamCORSNotDuplicated(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "https://origin.example.com")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
		w.Header().Set("Content-Type", "video/mp2t")
		io.WriteString(w, "data")
	}))
	defer upstream.Close()

	relay := newTestRelay()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/proxy/", nil)
	require.NoError(t, relay.Serve(w, r, upstream.URL+"/seg0.ts"))

	// Browsers reject duplicated CORS values, so the relay's own
	// headers must win over whatever the upstream sent.
	assert.Equal(t, []string{"*"}, w.Header().Values("Access-Control-Allow-Origin"))
	assert.Equal(t, []string{"GET, OPTIONS"}, w.Header().Values("Access-Control-Allow-Methods"))
}

func TestServe_RangePassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=0-99", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "bytes 0-99/1000")
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, strings.Repeat("y", 100))
	}))
	defer upstream.Close()

	relay := newTestRelay()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/proxy/", nil)
	r.Header.Set("Range", "bytes=0-99")
	require.NoError(t, relay.Serve(w, r, upstream.URL+"/seg0.ts"))

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "bytes 0-99/1000", w.Header().Get("Content-Range"))
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
}

func TestServe_UpstreamStatusPropagated(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer upstream.Close()

	relay := newTestRelay()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/proxy/", nil)
	require.NoError(t, relay.Serve(w, r, upstream.URL+"/gone.m3u8"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not here")
}

func TestServe_UnreachableUpstream(t *testing.T) {
	relay := newTestRelay()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/proxy/", nil)

	err := relay.Serve(w, r, "http://127.0.0.1:1/seg0.ts")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidTarget)
}

func TestRewritePlaylist_KeyURI(t *testing.T) {
	relay := newTestRelay()
	base, _ := url.Parse("https://cdn.example.com/live/index.m3u8")

	in := `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="key.bin",IV=0x1234
#EXTINF:10,
seg0.ts
`
	out := relay.RewritePlaylist(in, base)
	assert.Contains(t, out, `URI="http://localhost:8080/proxy/?url=`+url.QueryEscape("https://cdn.example.com/live/key.bin")+`"`)
	assert.Contains(t, out, ",IV=0x1234")
}
