package httpcache

import (
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fp(t *testing.T, raw string) Fingerprint {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	return Compute("GET", u, nil, nil)
}

func TestCache_StoreAndGet(t *testing.T) {
	c := New(1 << 20)
	f := fp(t, "https://a.test/x")
	c.Store(f, &Entry{Status: 200, Size: 10})

	entry, _, ok := c.Get(f)
	if !ok || entry.Status != 200 {
		t.Fatalf("got entry=%+v ok=%v", entry, ok)
	}
}

func TestCache_EvictsLRUWhenOverBudget(t *testing.T) {
	c := New(15)
	a := fp(t, "https://a.test/a")
	b := fp(t, "https://a.test/b")
	cc := fp(t, "https://a.test/c")

	c.Store(a, &Entry{Size: 10})
	c.Store(b, &Entry{Size: 10})
	// a should be evicted when b is stored since the combined size of
	// 20 exceeds the 15-byte budget.
	if _, _, ok := c.Get(a); ok {
		t.Error("expected a evicted")
	}
	if _, _, ok := c.Get(b); !ok {
		t.Error("expected b present")
	}

	c.Get(b) // touch b so it is most-recently-used
	c.Store(cc, &Entry{Size: 10})
	if c.Bytes() > 15 {
		t.Errorf("live bytes %d exceeds budget 15 immediately after Store", c.Bytes())
	}
}

func TestCache_FreshnessFromMaxAge(t *testing.T) {
	now := time.Now()
	e := &Entry{
		ReceivedAt: now,
		Directives: Directives{MaxAge: intPtr(60)},
		Header:     map[string][]string{},
	}
	if got := e.Assess(now.Add(30 * time.Second)); got != FreshnessFresh {
		t.Errorf("expected fresh at 30s of 60s max-age, got %v", got)
	}
	if got := e.Assess(now.Add(90 * time.Second)); got != FreshnessStale {
		t.Errorf("expected stale at 90s of 60s max-age, got %v", got)
	}
}

func TestCache_FetchSingleFlightCollapsesConcurrentMisses(t *testing.T) {
	c := New(1 << 20)
	f := fp(t, "https://a.test/shared")

	var calls int32
	var wg sync.WaitGroup
	results := make([]*Entry, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := c.Fetch(f, func() (*Entry, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return &Entry{Status: 200, Size: 1}, nil
			})
			if err != nil {
				t.Errorf("Fetch: %v", err)
				return
			}
			results[i] = entry
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly 1 network fetch, got %d", got)
	}
	for _, r := range results {
		if r == nil || r.Status != 200 {
			t.Errorf("expected shared result, got %+v", r)
		}
	}
}

func intPtr(n int) *int { return &n }
