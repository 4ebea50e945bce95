package inference

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
	StatusCode  int
	RequestSize int64
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

type metricsKey struct{}

// withMetrics returns a context whose requests through a TracedClient
// record into the returned NetworkMetrics.
func withMetrics(ctx context.Context) (context.Context, *NetworkMetrics) {
	m := &NetworkMetrics{}
	return context.WithValue(ctx, metricsKey{}, m), m
}

func metricsFrom(ctx context.Context) *NetworkMetrics {
	m, _ := ctx.Value(metricsKey{}).(*NetworkMetrics)
	return m
}

// TracedClient is an http.Client whose transport records connection timings
// for every request made with a context from withMetrics.
type TracedClient struct {
	client *http.Client
}

func NewTracedClient(base http.RoundTripper) *TracedClient {
	if base == nil {
		base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
	}
	return &TracedClient{client: &http.Client{Transport: &tracingTransport{base: base}}}
}

// HTTPClient exposes the traced client for SDKs that take an *http.Client.
func (c *TracedClient) HTTPClient() *http.Client { return c.client }

type TracedResponse struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

func (c *TracedClient) Do(req *http.Request) (*TracedResponse, error) {
	ctx, metrics := withMetrics(req.Context())
	req = req.WithContext(ctx)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &TracedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    metrics,
	}, nil
}

// Warm opens a connection to url and returns the TLS handshake time.
func (c *TracedClient) Warm(ctx context.Context, url string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	return resp.Metrics.TLS, nil
}

type tracingTransport struct {
	base http.RoundTripper
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m := metricsFrom(req.Context())
	if m == nil {
		return t.base.RoundTrip(req)
	}
	tr := &traceState{m: m, start: time.Now()}
	m.RequestSize = req.ContentLength
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), tr.clientTrace()))

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	m.StatusCode = resp.StatusCode
	if resp.TLS != nil {
		m.TLSProtocol = resp.TLS.NegotiatedProtocol
	}
	resp.Body = &timedBody{ReadCloser: resp.Body, tr: tr}
	return resp, nil
}

// traceState holds the timestamps of one round trip.
type traceState struct {
	m     *NetworkMetrics
	start time.Time

	mu                                  sync.Mutex
	getConn, dns, tcp, tlsStart         time.Time
	gotConn, wroteHeaders, wroteRequest time.Time
	firstByte                           time.Time
}

func (s *traceState) clientTrace() *httptrace.ClientTrace {
	m := s.m
	return &httptrace.ClientTrace{
		GetConn: func(_ string) { s.set(&s.getConn) },
		GotConn: func(info httptrace.GotConnInfo) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.gotConn = time.Now()
			m.ConnWait = s.gotConn.Sub(s.getConn)
			m.ConnReused = info.Reused
		},
		DNSStart:          func(_ httptrace.DNSStartInfo) { s.set(&s.dns) },
		DNSDone:           func(_ httptrace.DNSDoneInfo) { s.since(&m.DNS, &s.dns) },
		ConnectStart:      func(_, _ string) { s.set(&s.tcp) },
		ConnectDone:       func(_, _ string, _ error) { s.since(&m.TCP, &s.tcp) },
		TLSHandshakeStart: func() { s.set(&s.tlsStart) },
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			s.since(&m.TLS, &s.tlsStart)
		},
		WroteHeaders: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.wroteHeaders = time.Now()
			m.ReqHeaders = s.wroteHeaders.Sub(s.gotConn)
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.wroteRequest = time.Now()
			m.ReqBody = s.wroteRequest.Sub(s.wroteHeaders)
		},
		GotFirstResponseByte: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.firstByte = time.Now()
			m.TTFB = s.firstByte.Sub(s.wroteRequest)
		},
	}
}

func (s *traceState) set(t *time.Time) {
	s.mu.Lock()
	*t = time.Now()
	s.mu.Unlock()
}

func (s *traceState) since(d *time.Duration, from *time.Time) {
	s.mu.Lock()
	*d = time.Since(*from)
	s.mu.Unlock()
}

func (s *traceState) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.firstByte.IsZero() {
		s.m.Download = time.Since(s.firstByte)
	}
	s.m.Total = time.Since(s.start)
}

// timedBody records download and total time when the body is closed.
type timedBody struct {
	io.ReadCloser
	tr   *traceState
	once sync.Once
}

func (b *timedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.tr.done)
	return err
}
