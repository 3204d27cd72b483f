// Package proxy relays upstream media through this service, rewriting
// M3U8 playlists so every segment fetch flows back through the relay.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// copyBufferSize bounds per-request relay memory for binary streams.
const copyBufferSize = 64 * 1024

// browserUA is sent upstream; several CDNs refuse non-browser agents.
const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ErrInvalidTarget marks a request rejected before any upstream call.
var ErrInvalidTarget = errors.New("invalid proxy target")

// hopByHopHeaders are never forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Config holds configuration for the Relay.
type Config struct {
	// HTTPClient performs upstream fetches. Defaults to a plain client
	// with a 30 second timeout; retries would stall live streams.
	HTTPClient *http.Client

	Logger zerolog.Logger

	// AllowedHosts restricts relay targets when non-empty. Hosts of
	// rewritten playlist entries are admitted automatically so segment
	// fetches on other CDNs keep working.
	AllowedHosts []string

	// PublicBaseURL is the externally visible base of this service,
	// used when rewriting playlist entries.
	PublicBaseURL string
}

// Relay streams upstream media to clients.
type Relay struct {
	httpClient *http.Client
	logger     zerolog.Logger
	baseURL    string

	allowAll bool
	mu       sync.RWMutex
	allowed  map[string]struct{}
}

// New creates a Relay.
func New(cfg Config) *Relay {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	r := &Relay{
		httpClient: httpClient,
		logger:     cfg.Logger,
		baseURL:    strings.TrimRight(cfg.PublicBaseURL, "/"),
		allowAll:   len(cfg.AllowedHosts) == 0,
		allowed:    make(map[string]struct{}, len(cfg.AllowedHosts)),
	}
	for _, h := range cfg.AllowedHosts {
		r.allowed[strings.ToLower(h)] = struct{}{}
	}
	return r
}

// AllowHost admits a host for future relay requests.
func (p *Relay) AllowHost(host string) {
	if p.allowAll || host == "" {
		return
	}
	p.mu.Lock()
	p.allowed[strings.ToLower(host)] = struct{}{}
	p.mu.Unlock()
}

func (p *Relay) hostAllowed(host string) bool {
	if p.allowAll {
		return true
	}
	p.mu.RLock()
	_, ok := p.allowed[strings.ToLower(host)]
	p.mu.RUnlock()
	return ok
}

// TargetFromRequest extracts the upstream URL from a /proxy/ request.
// Players sometimes append playlist query strings without escaping, so
// everything after "url=" belongs to the target when the parsed
// parameter looks truncated.
func TargetFromRequest(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		return "", fmt.Errorf("%w: missing url parameter", ErrInvalidTarget)
	}

	if idx := strings.Index(r.URL.RawQuery, "url="); idx >= 0 {
		tail := r.URL.RawQuery[idx+len("url="):]
		if unescaped, err := url.QueryUnescape(tail); err == nil && len(unescaped) > len(raw) {
			raw = unescaped
		}
	}
	return raw, nil
}

// Validate checks the target before any upstream call.
func (p *Relay) Validate(target string) (*url.URL, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	if !p.hostAllowed(u.Hostname()) {
		return nil, fmt.Errorf("%w: host %q not allowed", ErrInvalidTarget, u.Hostname())
	}
	return u, nil
}

// Serve relays the target to the client. M3U8 playlists are rewritten
// line by line; everything else streams through a bounded buffer.
// Validation failures write a 400; upstream failures mirror the
// upstream status.
func (p *Relay) Serve(w http.ResponseWriter, r *http.Request, target string) error {
	u, err := p.Validate(target)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Referer", u.Scheme+"://"+u.Host+"/")
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	writeCORS(w.Header())
	copyResponseHeaders(w.Header(), resp.Header)

	if resp.StatusCode < 300 && isM3U8(resp, u) {
		return p.serveRewritten(w, resp, u)
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	w.WriteHeader(resp.StatusCode)

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(w, resp.Body, buf); err != nil {
		// Client disconnects mid-stream are routine for video.
		if !errors.Is(err, context.Canceled) {
			p.logger.Debug().Err(err).Str("host", u.Host).Msg("relay copy interrupted")
		}
	}
	return nil
}

// serveRewritten buffers the playlist (playlists are small), rewrites
// every segment and sub-playlist reference through the proxy, and sends
// the result with a corrected length.
func (p *Relay) serveRewritten(w http.ResponseWriter, resp *http.Response, base *url.URL) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read playlist: %w", err)
	}

	rewritten := p.RewritePlaylist(string(body), base)

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(rewritten)))
	w.WriteHeader(resp.StatusCode)
	// Write errors past this point mean the client went away.
	_, _ = io.WriteString(w, rewritten)
	return nil
}

// RewritePlaylist routes every URI line of an M3U8 document through the
// proxy. Tag lines carrying a URI attribute (encryption keys, media
// renditions) are rewritten too; other comments pass through untouched.
func (p *Relay) RewritePlaylist(playlist string, base *url.URL) string {
	var out strings.Builder
	out.Grow(len(playlist) + len(playlist)/2)

	sc := bufio.NewScanner(strings.NewReader(playlist))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			out.WriteString(line)
		case strings.HasPrefix(trimmed, "#"):
			out.WriteString(p.rewriteTagURI(trimmed, base))
		default:
			out.WriteString(p.proxyURL(trimmed, base))
		}
		out.WriteByte('\n')
	}
	return out.String()
}

// rewriteTagURI rewrites URI="…" attributes inside playlist tags.
func (p *Relay) rewriteTagURI(line string, base *url.URL) string {
	const marker = `URI="`
	start := strings.Index(line, marker)
	if start < 0 {
		return line
	}
	start += len(marker)
	end := strings.Index(line[start:], `"`)
	if end < 0 {
		return line
	}
	end += start
	return line[:start] + p.proxyURL(line[start:end], base) + line[end:]
}

// proxyURL absolutizes the reference against the playlist URL and wraps
// it in a proxy fetch URL.
func (p *Relay) proxyURL(ref string, base *url.URL) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	abs := base.ResolveReference(refURL)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ref
	}
	p.AllowHost(abs.Hostname())
	return p.baseURL + "/proxy/?url=" + url.QueryEscape(abs.String())
}

func isM3U8(resp *http.Response, u *url.URL) bool {
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

// copyResponseHeaders forwards upstream headers, dropping hop-by-hop
// headers and anything invalidated by the rewrite.
func copyResponseHeaders(dst, src http.Header) {
	for k, vv := range src {
		ck := http.CanonicalHeaderKey(k)
		switch ck {
		case "Content-Length", "Content-Encoding":
			continue
		default:
		}
		// The relay sets its own CORS headers; upstream copies would
		// duplicate the values and browsers reject that.
		if strings.HasPrefix(ck, "Access-Control-") {
			continue
		}
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(key string) bool {
	ck := http.CanonicalHeaderKey(key)
	for _, h := range hopByHopHeaders {
		if ck == h {
			return true
		}
	}
	return false
}

func writeCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range")
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
}
