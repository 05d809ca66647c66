package links

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

// redirectClient answers short links from a table as if redirects had been followed.
type redirectClient struct {
	mu       sync.Mutex
	targets  map[string]string
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    []string
}

func (c *redirectClient) Do(req *http.Request) (*http.Response, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		cur := c.maxSeen.Load()
		if n <= cur || c.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}

	c.mu.Lock()
	c.calls = append(c.calls, req.URL.String())
	target, ok := c.targets[req.URL.String()]
	c.mu.Unlock()

	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	if !ok {
		return nil, errors.New("connection refused")
	}

	finalReq, err := http.NewRequestWithContext(req.Context(), http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    finalReq,
	}, nil
}

func newExtractor(c HTTPClient) *Extractor {
	return &Extractor{Log: logger.Discard(), Client: c}
}

func TestExtract_DirectLink(t *testing.T) {
	x := newExtractor(&redirectClient{})

	got := x.Extract(context.Background(), "check this out https://x.com/user/status/123456")
	want := []e.PostID{"123456"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %v, want %v", got, want)
	}
}

func TestExtract_NoLinks(t *testing.T) {
	x := newExtractor(&redirectClient{})

	tests := []string{
		"",
		"hello there",
		"https://example.com/user/status/1",
		"https://x.com/user",
	}
	for _, text := range tests {
		if got := x.Extract(context.Background(), text); got != nil {
			t.Errorf("Extract(%q) = %v, want nil", text, got)
		}
	}
}

func TestExtract_HostVariants(t *testing.T) {
	x := newExtractor(&redirectClient{})

	text := strings.Join([]string{
		"https://twitter.com/a/status/1",
		"http://www.twitter.com/b/status/2?s=20",
		"https://mobile.twitter.com/c/statuses/3",
		"https://fxtwitter.com/d/status/4",
		"https://vxtwitter.com/e/status/5/photo/1",
		"https://fixupx.com/f/status/6",
		"https://x.com/i/web/status/7",
	}, " and ")

	got := x.Extract(context.Background(), text)
	want := []e.PostID{"1", "2", "3", "4", "5", "6", "7"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %v, want %v", got, want)
	}
}

func TestExtract_MixedCaseLinks(t *testing.T) {
	x := newExtractor(&redirectClient{})

	for _, text := range []string{
		"HTTPS://X.com/u/status/1",
		"Https://Twitter.COM/u/Status/1",
		"https://WWW.X.COM/u/STATUSES/1",
	} {
		if !MayContainLinks(text) {
			t.Errorf("MayContainLinks(%q) = false", text)
		}
		got := x.Extract(context.Background(), text)
		if want := []e.PostID{"1"}; !reflect.DeepEqual(got, want) {
			t.Errorf("Extract(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestExtract_DedupePreservesFirstSeenOrder(t *testing.T) {
	x := newExtractor(&redirectClient{})

	text := "https://x.com/a/status/30 https://x.com/b/status/10 https://twitter.com/a/status/30 https://x.com/c/status/20 https://x.com/b/status/10"
	got := x.Extract(context.Background(), text)
	want := []e.PostID{"30", "10", "20"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %v, want %v", got, want)
	}
}

func TestExtract_ShortLinksToSamePostAreDeduplicated(t *testing.T) {
	c := &redirectClient{targets: map[string]string{
		"https://t.co/aaa": "https://x.com/user/status/999",
		"https://t.co/bbb": "https://twitter.com/user/status/999?s=46",
	}}
	x := newExtractor(c)

	got := x.Extract(context.Background(), "one https://t.co/aaa two https://t.co/bbb")
	want := []e.PostID{"999"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %v, want %v", got, want)
	}
}

func TestExtract_ShortLinkOrderMatchesText(t *testing.T) {
	c := &redirectClient{targets: map[string]string{
		"https://t.co/first": "https://x.com/u/status/1",
	}}
	x := newExtractor(c)

	got := x.Extract(context.Background(), "https://t.co/first then https://x.com/u/status/2")
	want := []e.PostID{"1", "2"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %v, want %v", got, want)
	}
}

func TestExtract_FailedResolutionIsSkipped(t *testing.T) {
	c := &redirectClient{targets: map[string]string{
		"https://t.co/good":    "https://x.com/u/status/5",
		"https://t.co/notpost": "https://example.com/somewhere",
	}}
	x := newExtractor(c)

	got := x.Extract(context.Background(), "https://t.co/broken https://t.co/good https://t.co/notpost")
	want := []e.PostID{"5"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %v, want %v", got, want)
	}
}

func TestExtract_ResolvesConcurrently(t *testing.T) {
	c := &redirectClient{
		delay: 50 * time.Millisecond,
		targets: map[string]string{
			"https://t.co/a": "https://x.com/u/status/1",
			"https://t.co/b": "https://x.com/u/status/2",
			"https://t.co/c": "https://x.com/u/status/3",
			"https://t.co/d": "https://x.com/u/status/4",
		},
	}
	x := newExtractor(c)

	got := x.Extract(context.Background(), "https://t.co/a https://t.co/b https://t.co/c https://t.co/d")
	want := []e.PostID{"1", "2", "3", "4"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Extract() = %v, want %v", got, want)
	}

	if m := c.maxSeen.Load(); m < 2 {
		t.Errorf("max concurrent resolutions = %d, want more than 1", m)
	}
}

func TestExtract_RealRedirectChain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hop":
			http.Redirect(w, r, "/user/status/4242", http.StatusMovedPermanently)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	x := newExtractor(server.Client())
	id, err := x.resolve(context.Background(), server.URL+"/hop")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if id != "4242" {
		t.Errorf("resolve() = %q, want %q", id, "4242")
	}
}

func TestMayContainLinks(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"see https://X.com/a/status/1", true},
		{"twitter.com is down", true},
		{"https://t.co/abc", true},
		{"nothing to see", false},
	}

	for _, tt := range tests {
		if got := MayContainLinks(tt.text); got != tt.want {
			t.Errorf("MayContainLinks(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
