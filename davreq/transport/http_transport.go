package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/davkit/davreq"
	"go.uber.org/zap"
)

const (
	defaultChunkSize = 32 * 1024
	maxAuthRounds    = 8
)

var (
	ErrAuthCancelled = errors.New("authentication challenge cancelled")
)

type config struct {
	chunkSize       int
	rootCAs         *x509.CertPool
	idleConnTimeout time.Duration
	maxIdleConns    int
}

type Option func(c *config)

// WithChunkSize sets the read size used to slice the response body into
// data events.
func WithChunkSize(n int) Option {
	return func(c *config) {
		c.chunkSize = n
	}
}

// WithRootCAs replaces the system roots used for server verification.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(c *config) {
		c.rootCAs = pool
	}
}

func WithIdleConn(max int, timeout time.Duration) Option {
	return func(c *config) {
		c.maxIdleConns = max
		c.idleConnTimeout = timeout
	}
}

// HTTPTransport issues wire requests with net/http and converts the exchange
// into sink events. It is safe for concurrent use and pools connections.
type HTTPTransport struct {
	c      *config
	dialer *net.Dialer
	client *http.Client
}

func New(opts ...Option) *HTTPTransport {
	c := &config{
		chunkSize:       defaultChunkSize,
		idleConnTimeout: 20 * time.Second,
		maxIdleConns:    16,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.chunkSize <= 0 {
		c.chunkSize = defaultChunkSize
	}
	t := &HTTPTransport{
		c:      c,
		dialer: &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second},
	}
	t.client = &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         t.dialer.DialContext,
			DialTLSContext:      t.dialTLS,
			IdleConnTimeout:     c.idleConnTimeout,
			MaxIdleConns:        c.maxIdleConns,
			MaxIdleConnsPerHost: c.maxIdleConns,
		},
	}
	return t
}

type sinkKey struct{}

type handle struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (h *handle) Cancel() {
	h.once.Do(h.cancel)
}

func (t *HTTPTransport) Issue(ctx context.Context, req *davreq.WireRequest, sink davreq.EventSink) (davreq.Handle, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("invalid wire request")
	}
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	ctx = context.WithValue(ctx, sinkKey{}, sink)
	go t.run(ctx, cancel, req, sink)
	return &handle{cancel: cancel}, nil
}

func (t *HTTPTransport) run(ctx context.Context, cancel context.CancelFunc, req *davreq.WireRequest, sink davreq.EventSink) {
	defer cancel()
	rsp, err := t.roundTrip(ctx, req, sink)
	if err != nil {
		sink.OnComplete(err)
		return
	}
	defer rsp.Body.Close()
	sink.OnResponse(rsp.StatusCode, rsp.Header)
	buf := make([]byte, t.c.chunkSize)
	for {
		n, err := rsp.Body.Read(buf)
		if n > 0 {
			sink.OnData(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			sink.OnComplete(nil)
			return
		}
		if err != nil {
			sink.OnComplete(fmt.Errorf("read body failed, err:%w", err))
			return
		}
	}
}

func (t *HTTPTransport) buildRequest(ctx context.Context, req *davreq.WireRequest) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	hreq.ContentLength = int64(len(req.Body))
	if v := req.Header.Get("Content-Length"); len(v) > 0 {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			hreq.ContentLength = n
		}
	}
	if req.NoCache {
		hreq.Header.Set("Cache-Control", "no-cache")
		hreq.Header.Set("Pragma", "no-cache")
	}
	return hreq, nil
}

type spaceKey struct {
	host   string
	realm  string
	scheme string
}

// roundTrip sends the request and answers password challenges through the
// sink until a response that is not answered with a credential arrives.
func (t *HTTPTransport) roundTrip(ctx context.Context, req *davreq.WireRequest, sink davreq.EventSink) (*http.Response, error) {
	failures := make(map[spaceKey]int)
	var sign func(r *http.Request) error
	for round := 0; ; round++ {
		hreq, err := t.buildRequest(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("build request failed, err:%w", err)
		}
		if sign != nil {
			if err := sign(hreq); err != nil {
				return nil, fmt.Errorf("sign request failed, err:%w", err)
			}
		}
		rsp, err := t.client.Do(hreq)
		if err != nil {
			return nil, err
		}
		if rsp.StatusCode != http.StatusUnauthorized || round >= maxAuthRounds {
			return rsp, nil
		}
		chs := parseWWWAuthenticate(rsp.Header.Values("WWW-Authenticate"))
		ch, authorizer, supported := pickChallenge(chs)
		if ch == nil {
			return rsp, nil
		}
		mech := davreq.Mechanism(ch.Scheme)
		if supported {
			mech = authorizer.Mechanism()
		}
		key := spaceKey{host: req.URL.Host, realm: ch.realm(), scheme: string(mech)}
		ans := ask(ctx, sink, &davreq.Challenge{
			Space: davreq.ProtectionSpace{
				Host:      req.URL.Host,
				Realm:     ch.realm(),
				Mechanism: mech,
			},
			PreviousFailureCount: failures[key],
		})
		if ans.Disposition == davreq.CancelChallenge {
			drainAndClose(rsp)
			return nil, ErrAuthCancelled
		}
		if ans.Disposition != davreq.UseCredential || !supported {
			return rsp, nil
		}
		drainAndClose(rsp)
		failures[key]++
		cred := ans.Credential
		sign = func(r *http.Request) error {
			return authorizer.Authorize(r, ch, cred)
		}
		logutil.GetLogger(ctx).Debug("retry request with credential",
			zap.String("scheme", authorizer.Name()), zap.String("realm", ch.realm()), zap.Int("round", round))
	}
}

func drainAndClose(rsp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rsp.Body, 64*1024))
	_ = rsp.Body.Close()
}

// ask delivers ch to the sink and waits for its reply.
func ask(ctx context.Context, sink davreq.EventSink, ch *davreq.Challenge) davreq.ChallengeAnswer {
	ansCh := make(chan davreq.ChallengeAnswer, 1)
	sink.OnChallenge(ch, func(a davreq.ChallengeAnswer) {
		select {
		case ansCh <- a:
		default:
		}
	})
	select {
	case a := <-ansCh:
		return a
	case <-ctx.Done():
		return davreq.ChallengeAnswer{Disposition: davreq.CancelChallenge}
	}
}

func (t *HTTPTransport) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	raw, err := t.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	conn := tls.Client(raw, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, // verification happens in VerifyConnection
		VerifyConnection: func(cs tls.ConnectionState) error {
			return t.verifyServer(ctx, host, cs)
		},
	})
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return conn, nil
}

// verifyServer runs the normal chain verification and falls back to a
// server-trust challenge when it fails.
func (t *HTTPTransport) verifyServer(ctx context.Context, host string, cs tls.ConnectionState) error {
	if len(cs.PeerCertificates) == 0 {
		return fmt.Errorf("no peer certificate, host:%s", host)
	}
	inter := x509.NewCertPool()
	for _, c := range cs.PeerCertificates[1:] {
		inter.AddCert(c)
	}
	leaf := cs.PeerCertificates[0]
	_, verr := leaf.Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         t.c.rootCAs,
		Intermediates: inter,
	})
	if verr == nil {
		return nil
	}
	sink, ok := ctx.Value(sinkKey{}).(davreq.EventSink)
	if !ok {
		return verr
	}
	ans := ask(ctx, sink, &davreq.Challenge{
		Space: davreq.ProtectionSpace{
			Host:         host,
			Mechanism:    davreq.MechanismServerTrust,
			Certificates: cs.PeerCertificates,
		},
	})
	if ans.Disposition == davreq.UseCredential && ans.Credential != nil {
		for _, c := range ans.Credential.Trust {
			if c.Equal(leaf) {
				logutil.GetLogger(ctx).Warn("accept untrusted server certificate", zap.String("host", host), zap.Error(verr))
				return nil
			}
		}
	}
	return fmt.Errorf("server certificate not trusted, host:%s, err:%w", host, verr)
}
