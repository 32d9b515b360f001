package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"netstack/internal/netreq"
	"netstack/internal/orchestrator"
	"netstack/internal/proxy"
)

var appVersion = "dev"

func main() {
	var (
		showVersion  bool
		logLevel     string
		method       string
		maxRedirects int
		cacheBytes   int64
		enableHTTP3  bool
		proxyAddr    string
		dohURL       string
		timeout      time.Duration
	)

	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&logLevel, "log-level", "warning", "log level: debug, info, warning, error")
	flag.StringVar(&method, "method", "GET", "HTTP method")
	flag.IntVar(&maxRedirects, "max-redirects", 10, "maximum redirects to follow")
	flag.Int64Var(&cacheBytes, "cache-bytes", 64<<20, "HTTP cache byte budget")
	flag.BoolVar(&enableHTTP3, "http3", false, "attempt HTTP/3 before falling back")
	flag.StringVar(&proxyAddr, "proxy", "", "upstream HTTP CONNECT proxy, host:port")
	flag.StringVar(&dohURL, "doh", "", "DNS-over-HTTPS resolver URL")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "overall request timeout")
	flag.Parse()

	if showVersion {
		fmt.Printf("netstack %s\n", appVersion)
		os.Exit(0)
	}

	logger := configureLogging(logLevel)
	defer logger.Sync()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: netstack [flags] <url>")
		os.Exit(2)
	}

	u, err := url.Parse(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "netstack: invalid URL: %v\n", err)
		os.Exit(1)
	}

	cfg := orchestrator.Config{
		MaxRedirects:  maxRedirects,
		CacheMaxBytes: cacheBytes,
		EnableHTTP3:   enableHTTP3,
		DoHURL:        dohURL,
		Logger:        logger,
	}
	if proxyAddr != "" {
		cfg.Proxy = &proxy.Config{Kind: proxy.KindHTTPConnect, Address: proxyAddr}
	}

	o, err := orchestrator.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netstack: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req := &netreq.NetworkRequest{
		URL:         u,
		Method:      netreq.Method(method),
		Mode:        netreq.ModeNavigate,
		Credentials: netreq.CredentialsInclude,
		Cache:       netreq.CacheDefault,
		Redirect:    netreq.RedirectFollow,
		Priority:    netreq.PriorityHigh,
	}

	resp, err := o.Fetch(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netstack: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%d %s\n", resp.Status, resp.StatusPhrase)
	for _, k := range resp.Header.Keys() {
		for _, v := range resp.Header.Values(k) {
			fmt.Printf("%s: %s\n", k, v)
		}
	}
	fmt.Printf("\n%d bytes, %s, protocol %s\n", resp.Body.Len(), resp.Timing.Total(), resp.Protocol)
}

func configureLogging(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
