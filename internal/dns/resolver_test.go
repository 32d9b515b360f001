package dns

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	miekgdns "github.com/miekg/dns"
)

func TestCache_GetMissAfterExpiry(t *testing.T) {
	now := time.Now()
	c := newCache(func() time.Time { return now })
	c.set("example.com", []string{"1.2.3.4"}, 30*time.Second)

	if _, ok := c.get("EXAMPLE.COM"); !ok {
		t.Fatal("expected cache hit with case-insensitive host")
	}

	now = now.Add(31 * time.Second)
	if _, ok := c.get("example.com"); ok {
		t.Error("expected cache miss after TTL elapsed")
	}
}

func TestClampTTL(t *testing.T) {
	cases := []struct {
		in, want time.Duration
	}{
		{1 * time.Second, minTTL},
		{1 * time.Hour, maxTTL},
		{time.Minute, time.Minute},
	}
	for _, c := range cases {
		if got := clampTTL(c.in); got != c.want {
			t.Errorf("clampTTL(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestResolver_ResolveLiteralIP(t *testing.T) {
	r := New(Config{})
	addrs, err := r.Resolve(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != "127.0.0.1" {
		t.Errorf("got %v, want [127.0.0.1]", addrs)
	}
}

func TestToASCIIHost_NormalizesIDN(t *testing.T) {
	got := toASCIIHost("café.example")
	if got != "xn--caf-dma.example" {
		t.Errorf("toASCIIHost(café.example) = %q, want xn--caf-dma.example", got)
	}
	if got := toASCIIHost("example.com"); got != "example.com" {
		t.Errorf("toASCIIHost(example.com) = %q, want unchanged", got)
	}
}

// fakeDoHClient answers each DoH POST with one A or one AAAA record,
// depending on the query type encoded in the request body, letting
// lookupDoH's two concurrent queries be exercised deterministically.
type fakeDoHClient struct{}

func (fakeDoHClient) Do(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	q := new(miekgdns.Msg)
	if err := q.Unpack(body); err != nil {
		return nil, err
	}

	reply := new(miekgdns.Msg)
	reply.SetReply(q)
	switch q.Question[0].Qtype {
	case miekgdns.TypeA:
		rr, _ := miekgdns.NewRR(q.Question[0].Name + " 60 IN A 93.184.216.34")
		reply.Answer = append(reply.Answer, rr)
	case miekgdns.TypeAAAA:
		rr, _ := miekgdns.NewRR(q.Question[0].Name + " 60 IN AAAA ::1")
		reply.Answer = append(reply.Answer, rr)
	}

	packed, err := reply.Pack()
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(packed)),
	}, nil
}

func TestResolver_ResolveViaDoHMergesConcurrentQueries(t *testing.T) {
	r := New(Config{DoHURL: "https://dns.example/dns-query", DoHClient: fakeDoHClient{}})

	addrs, err := r.Resolve(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("got %v, want one A and one AAAA address", addrs)
	}
}

func TestResolver_ResolveLoopbackHostname(t *testing.T) {
	r := New(Config{})
	addrs, err := r.Resolve(context.Background(), "localhost")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(addrs) == 0 {
		t.Fatal("expected at least one address for localhost")
	}
	for _, a := range addrs {
		if net.ParseIP(a) == nil {
			t.Errorf("non-IP address returned: %q", a)
		}
	}
}
