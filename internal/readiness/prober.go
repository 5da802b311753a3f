package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"webserver-bench/internal/config"
	"webserver-bench/internal/logging"

	"github.com/avast/retry-go"
)

var ErrNotReady = errors.New("target did not become ready")

type Status int

const (
	Ready Status = iota
	TimedOut
)

func (s Status) String() string {
	if s == Ready {
		return "ready"
	}
	return "timed out"
}

// Result describes a completed wait, successful or not.
type Result struct {
	Ready      bool
	Attempts   int
	Elapsed    time.Duration
	LastStatus int
	LastError  error
}

type Prober struct {
	client   *http.Client
	interval time.Duration
	maxWait  time.Duration
	timeout  time.Duration
}

func NewProber(cfg config.ReadinessConfig) *Prober {
	p := &Prober{
		client:   &http.Client{},
		interval: cfg.Interval.Std(),
		maxWait:  cfg.MaxWait.Std(),
		timeout:  cfg.RequestTimeout.Std(),
	}
	if p.interval <= 0 {
		p.interval = config.DefaultReadinessInterval
	}
	if p.maxWait <= 0 {
		p.maxWait = config.DefaultReadinessMaxWait
	}
	if p.timeout <= 0 {
		p.timeout = config.DefaultReadinessTimeout
	}
	return p
}

// Wait polls url until it answers with a 2xx status or maxWait elapses. Connection errors and other
// status codes are retried at a fixed interval. A cancelled ctx aborts immediately.
func (p *Prober) Wait(ctx context.Context, url string) (*Result, error) {
	logger := logging.GetLogger()
	result := &Result{}
	start := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, p.maxWait)
	defer cancel()

	attempts := uint(p.maxWait/p.interval) + 1

	err := retry.Do(
		func() error {
			result.Attempts++
			status, err := p.probe(waitCtx, url)
			result.LastStatus = status
			result.LastError = err
			return err
		},
		retry.Attempts(attempts),
		retry.Delay(p.interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(waitCtx),
		retry.OnRetry(func(n uint, err error) {
			logger.WithField("url", url).WithField("attempt", n+1).WithError(err).Trace("Target not ready yet")
		}),
	)
	result.Elapsed = time.Since(start)

	if err == nil {
		result.Ready = true
		result.LastError = nil
		return result, nil
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, fmt.Errorf("%w after %s (%d attempts): %v", ErrNotReady, result.Elapsed.Round(time.Millisecond), result.Attempts, result.LastError)
}

// Probe reduces Wait to its outcome. Cancellation of ctx also reports TimedOut.
func (p *Prober) Probe(ctx context.Context, url string) Status {
	if res, err := p.Wait(ctx, url); err == nil && res.Ready {
		return Ready
	}
	return TimedOut
}

func (p *Prober) probe(ctx context.Context, url string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, retry.Unrecoverable(err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
