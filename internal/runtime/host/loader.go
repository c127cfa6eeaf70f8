package host

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
)

// ScriptExt is appended to unit types to form the script file name.
const ScriptExt = ".lua"

// ScriptURI builds the download location of a unit script. Hub websocket
// schemes are mapped to their HTTP counterparts and custom units live below
// the organisation id.
func ScriptURI(hubURI, organizationID, unitType string, custom bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(hubURI))
	if err != nil {
		return "", fmt.Errorf("parse hub uri: %w", err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	case "http", "https":
	default:
		return "", fmt.Errorf("hub uri %q: unsupported scheme %q", hubURI, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("hub uri %q has no host", hubURI)
	}

	file := unitType
	if !strings.HasSuffix(strings.ToLower(file), ScriptExt) {
		file += ScriptExt
	}
	segments := []string{strings.TrimSuffix(u.Path, "/"), "api", "Scripts"}
	if custom && organizationID != "" {
		segments = append(segments, organizationID)
	}
	segments = append(segments, file)
	u.Path = path.Join(segments...)
	if !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	u.RawQuery, u.Fragment = "", ""
	return u.String(), nil
}

// Loader downloads unit scripts and caches them by file name until the cache
// is cleared on reload.
type Loader struct {
	client *http.Client

	mu    sync.Mutex
	cache map[string][]byte
}

// NewLoader returns a loader using client. A nil client gets one with
// timeout, or no timeout when it is zero.
func NewLoader(client *http.Client, timeout time.Duration) *Loader {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Loader{client: client, cache: map[string][]byte{}}
}

func cacheKey(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return uri
}

// Fetch returns the script at uri, from the cache when it was fetched
// before.
func (l *Loader) Fetch(ctx context.Context, uri string) ([]byte, error) {
	key := cacheKey(uri)
	l.mu.Lock()
	if src, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return src, nil
	}
	l.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, &errspkg.FetchError{URI: uri, Err: err}
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &errspkg.FetchError{URI: uri, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &errspkg.FetchError{URI: uri, StatusCode: resp.StatusCode}
	}
	src, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errspkg.FetchError{URI: uri, StatusCode: resp.StatusCode, Err: err}
	}

	l.mu.Lock()
	l.cache[key] = src
	l.mu.Unlock()
	return src, nil
}

// ClearCache drops every cached script.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = map[string][]byte{}
}

// Cached reports how many scripts are cached.
func (l *Loader) Cached() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cache)
}
