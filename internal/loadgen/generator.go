package loadgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"webserver-bench/internal/logging"
	"webserver-bench/internal/scenario"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrNoConnection is returned when a scenario produced no usable exchange at all: every
// request failed below HTTP, or none could be issued.
var ErrNoConnection = errors.New("no connection to target could be established")

// Pause after a transport failure in duration mode so a dead target does not turn the
// run into a connect() spin loop that fills memory with identical samples.
const transportErrorPause = 10 * time.Millisecond

type Target struct {
	Name    string
	BaseURL string
}

type Generator struct {
	client *http.Client
	logger *logrus.Logger
}

type Option func(*Generator)

// WithClient makes every run share the given client instead of a fresh per-run transport.
func WithClient(client *http.Client) Option {
	return func(g *Generator) {
		g.client = client
	}
}

func New(opts ...Option) *Generator {
	g := &Generator{
		logger: logging.GetWorkerLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// plan is the shared, read-mostly state of one execution.
type plan struct {
	target    Target
	sc        *scenario.Scenario
	url       string
	timeout   time.Duration
	deadline  time.Time
	remaining *atomic.Int64
	limiter   *rate.Limiter
	client    *http.Client
	record    bool
}

// Run drives exactly sc.Config.Concurrency workers against target until the scenario's
// duration has elapsed or its request budget is spent. Cancelling ctx stops new requests;
// requests already in flight finish within the per-request timeout and are kept, and the
// run is marked incomplete.
func (g *Generator) Run(ctx context.Context, target Target, sc *scenario.Scenario) (*Run, error) {
	cfg := sc.Config
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("scenario %s: concurrency must be greater than 0", cfg.ID)
	}

	client := g.client
	if client == nil {
		transport := newTransport(cfg.Concurrency)
		defer transport.CloseIdleConnections()
		client = &http.Client{Transport: transport}
	}

	p := &plan{
		target:  target,
		sc:      sc,
		url:     strings.TrimRight(target.BaseURL, "/") + cfg.Path,
		timeout: cfg.RequestTimeout(),
		client:  client,
	}
	if cfg.Rate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}

	if cfg.Warmup > 0 {
		g.logger.WithFields(logrus.Fields{
			"target":   target.Name,
			"scenario": cfg.ID,
			"requests": cfg.Warmup,
		}).Debug("Warming up")
		warm := *p
		warm.remaining = new(atomic.Int64)
		warm.remaining.Store(cfg.Warmup)
		warm.record = false
		g.execute(ctx, &warm, cfg.Concurrency)
	}

	p.record = true
	if cfg.IsRequestCount() {
		p.remaining = new(atomic.Int64)
		p.remaining.Store(cfg.Requests)
	}

	run := &Run{
		Target:    target.Name,
		Scenario:  cfg.ID,
		Workers:   cfg.Concurrency,
		StartedAt: time.Now(),
	}
	if !cfg.IsRequestCount() {
		p.deadline = run.StartedAt.Add(cfg.Duration.Std())
	}

	run.Samples = g.execute(ctx, p, cfg.Concurrency)
	run.EndedAt = time.Now()
	run.Incomplete = ctx.Err() != nil

	if !run.Incomplete && !anyExchange(run.Samples) {
		return run, ErrNoConnection
	}
	return run, nil
}

// execute runs the worker pool and concatenates the worker-local buffers.
func (g *Generator) execute(ctx context.Context, p *plan, workers int) []Sample {
	buffers := make([][]Sample, workers)

	limiterCtx := ctx
	if !p.deadline.IsZero() {
		var cancel context.CancelFunc
		limiterCtx, cancel = context.WithDeadline(ctx, p.deadline)
		defer cancel()
	}

	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		eg.Go(func() error {
			buffers[w] = g.worker(ctx, limiterCtx, p, w, workers)
			return nil
		})
	}
	_ = eg.Wait()

	if !p.record {
		return nil
	}

	total := 0
	for _, b := range buffers {
		total += len(b)
	}
	samples := make([]Sample, 0, total)
	for _, b := range buffers {
		samples = append(samples, b...)
	}
	return samples
}

func (g *Generator) worker(ctx, limiterCtx context.Context, p *plan, id, workers int) []Sample {
	var buf []Sample
	if p.record && p.remaining != nil {
		buf = make([]Sample, 0, p.remaining.Load()/int64(workers)+1)
	}

	for seq := uint64(0); ; seq++ {
		if ctx.Err() != nil {
			return buf
		}
		if p.remaining != nil {
			if p.remaining.Add(-1) < 0 {
				return buf
			}
		} else if !time.Now().Before(p.deadline) {
			return buf
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(limiterCtx); err != nil {
				return buf
			}
		}

		payload := p.sc.Payload(seq*uint64(workers) + uint64(id))
		sample := g.issue(ctx, p, payload)

		if g.logger.IsLevelEnabled(logrus.TraceLevel) {
			g.logger.WithFields(logrus.Fields{
				"target":   p.target.Name,
				"scenario": p.sc.ID(),
				"worker":   id,
				"outcome":  sample.Outcome,
				"status":   sample.Status,
				"latency":  sample.Latency,
			}).Trace("Request completed")
		}

		if p.record {
			buf = append(buf, sample)
		}
		if sample.Outcome == OutcomeTransportError && p.remaining == nil {
			if pause := transportPause(p.deadline, time.Now()); pause > 0 {
				time.Sleep(pause)
			}
		}
	}
}

// transportPause never extends a duration run past its deadline.
func transportPause(deadline, now time.Time) time.Duration {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	if remaining < transportErrorPause {
		return remaining
	}
	return transportErrorPause
}

// issue performs one request. The request context is detached from ctx cancellation and
// bounded only by the scenario timeout, so an interrupt never turns an in-flight request
// into a bogus failure.
func (g *Generator) issue(ctx context.Context, p *plan, payload *scenario.Payload) Sample {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	sample := Sample{
		Target:   p.target.Name,
		Scenario: p.sc.ID(),
	}

	var body io.Reader = http.NoBody
	if payload.Body != nil {
		body = bytes.NewReader(payload.Body)
	}
	req, err := http.NewRequestWithContext(reqCtx, p.sc.Method, p.url, body)
	if err != nil {
		sample.StartedAt = time.Now()
		sample.Outcome = OutcomeTransportError
		sample.Error = err.Error()
		return sample
	}
	if payload.ContentType != "" {
		req.Header.Set("Content-Type", payload.ContentType)
	}

	sample.StartedAt = time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		sample.Latency = time.Since(sample.StartedAt)
		sample.Outcome = classify(reqCtx, err)
		sample.Error = err.Error()
		return sample
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	sample.Latency = time.Since(sample.StartedAt)
	sample.Status = resp.StatusCode
	sample.Bytes = int64(len(data))
	if err != nil {
		sample.Outcome = classify(reqCtx, err)
		sample.Error = err.Error()
		return sample
	}

	if err := payload.Check(resp.StatusCode, data); err != nil {
		sample.Outcome = OutcomeHTTPError
		sample.Error = err.Error()
		return sample
	}
	sample.Outcome = OutcomeSuccess
	return sample
}

func classify(reqCtx context.Context, err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeTransportError
}

func anyExchange(samples []Sample) bool {
	for i := range samples {
		if samples[i].Outcome != OutcomeTransportError {
			return true
		}
	}
	return false
}

func newTransport(concurrency int) *http.Transport {
	return &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        concurrency,
		MaxIdleConnsPerHost: concurrency,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
		ForceAttemptHTTP2:   false,
	}
}
