package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/dcshock/scrapepipe/cache"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; scrapepipe/1.0)"

// Request describes one remote call. Method defaults to GET.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header map[string]string
}

// Response is a successful (2xx) response. FromCache is set when the body was
// served by the replay store; such responses always carry status 200.
type Response struct {
	Status    int
	Body      []byte
	FromCache bool
}

// Fetcher is a single HTTP session with optional replay. It is not safe for
// concurrent use by several pipeline runs; give each run its own Fetcher.
type Fetcher struct {
	http      *resty.Client
	store     cache.Store
	namespace string
	logger    *zap.Logger
	tempDir   string
	sleep     func(ctx context.Context, d time.Duration) error
}

type settings struct {
	timeout   time.Duration
	userAgent string
	headers   map[string]string
	rps       float64
	burst     int
	transport http.RoundTripper
	logger    *zap.Logger
	store     cache.Store
	namespace string
	tempDir   string
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures a Fetcher.
type Option func(*settings)

// WithStore enables replay mode against store. namespace (normally the
// pipeline name) is part of every fingerprint so pipelines sharing a store
// never read each other's entries.
func WithStore(store cache.Store, namespace string) Option {
	return func(s *settings) {
		s.store = store
		s.namespace = namespace
	}
}

// WithTimeout sets the per-request timeout (default 30s).
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *settings) { s.userAgent = ua }
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(s *settings) {
		if s.headers == nil {
			s.headers = map[string]string{}
		}
		s.headers[key] = value
	}
}

// WithRateLimit caps live requests at rps per second. burst >= 1; a burst
// smaller than 1 is raised to 1. rps <= 0 disables the limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *settings) {
		s.rps = rps
		s.burst = burst
	}
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *settings) { s.transport = rt }
}

// WithLogger sets the logger used for request and cache events.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithTempDir sets the directory for GetToFile temp files (default os.TempDir).
func WithTempDir(dir string) Option {
	return func(s *settings) { s.tempDir = dir }
}

// WithSleep replaces the function GetThrottled uses to wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *settings) { s.sleep = fn }
}

// New returns a Fetcher with a fresh session.
func New(opts ...Option) *Fetcher {
	cfg := settings{
		timeout:   30 * time.Second,
		userAgent: defaultUserAgent,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	client := resty.New()
	if cfg.transport != nil {
		client.SetTransport(cfg.transport)
	}
	// cookiejar.New only fails on a bad PublicSuffixList, and we pass none.
	jar, _ := cookiejar.New(nil)
	client.SetCookieJar(jar)
	client.SetTimeout(cfg.timeout)
	client.SetHeader("User-Agent", cfg.userAgent)
	if len(cfg.headers) > 0 {
		client.SetHeaders(cfg.headers)
	}

	instrumentResty(client, cfg.logger)

	if cfg.rps > 0 {
		burst := cfg.burst
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(cfg.rps), burst)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}

	return &Fetcher{
		http:      client,
		store:     cfg.store,
		namespace: cfg.namespace,
		logger:    cfg.logger,
		tempDir:   cfg.tempDir,
		sleep:     cfg.sleep,
	}
}

// Replay reports whether the fetcher serves requests from a store.
func (f *Fetcher) Replay() bool { return f.store != nil }

// Fingerprint is the cache key for a request: a JSON array of namespace,
// upper-cased method, url and body. The body is base64 encoded by
// encoding/json, so binary bodies stay distinct.
func Fingerprint(namespace, method, url string, body []byte) string {
	key, _ := json.Marshal([]any{namespace, strings.ToUpper(method), url, body})
	return string(key)
}

// Get performs a GET request.
func (f *Fetcher) Get(ctx context.Context, url string) (*Response, error) {
	return f.Do(ctx, Request{Method: http.MethodGet, URL: url})
}

// Post performs a POST request with body.
func (f *Fetcher) Post(ctx context.Context, url string, body []byte, header map[string]string) (*Response, error) {
	return f.Do(ctx, Request{Method: http.MethodPost, URL: url, Body: body, Header: header})
}

// Do performs req, consulting the replay store first when one is attached.
// Non-2xx responses and network failures are returned as *FetchError and
// are never stored.
func (f *Fetcher) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if f.store == nil {
		return f.live(ctx, req)
	}

	key := Fingerprint(f.namespace, req.Method, req.URL, req.Body)
	body, ok, err := f.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		f.logger.Debug("retrieving from cache",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Bool("from_cache", true),
		)
		return &Response{Status: http.StatusOK, Body: body, FromCache: true}, nil
	}

	f.logger.Debug("downloading", zap.String("method", req.Method), zap.String("url", req.URL))
	res, err := f.live(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := f.store.Put(ctx, key, res.Body); err != nil {
		return nil, err
	}
	return res, nil
}

func (f *Fetcher) request(ctx context.Context, req Request) *resty.Request {
	r := f.http.R().SetContext(ctx)
	if len(req.Header) > 0 {
		r.SetHeaders(req.Header)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}
	return r
}

func (f *Fetcher) live(ctx context.Context, req Request) (*Response, error) {
	res, err := f.request(ctx, req).Execute(req.Method, req.URL)
	if err != nil {
		return nil, &FetchError{Method: req.Method, URL: req.URL, Err: err}
	}
	if !res.IsSuccess() {
		return nil, &FetchError{Method: req.Method, URL: req.URL, Status: res.StatusCode()}
	}
	return &Response{Status: res.StatusCode(), Body: res.Body()}, nil
}

// Close releases idle connections held by the session.
func (f *Fetcher) Close() error {
	f.http.GetClient().CloseIdleConnections()
	return nil
}
