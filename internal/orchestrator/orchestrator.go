package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"webserver-bench/internal/collectors"
	"webserver-bench/internal/config"
	"webserver-bench/internal/container"
	"webserver-bench/internal/cpuallocator"
	"webserver-bench/internal/host"
	"webserver-bench/internal/loadgen"
	"webserver-bench/internal/logging"
	"webserver-bench/internal/metrics"
	"webserver-bench/internal/readiness"
	"webserver-bench/internal/results"
	"webserver-bench/internal/scenario"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultLogTail  = 50
	teardownTimeout = 30 * time.Second
)

var (
	errRunCancelled      = errors.New("run cancelled before target started")
	errScenarioCancelled = errors.New("run cancelled before scenario started")
)

type LoadRunner interface {
	Run(ctx context.Context, target loadgen.Target, sc *scenario.Scenario) (*loadgen.Run, error)
}

type ReadinessProber interface {
	Wait(ctx context.Context, url string) (*readiness.Result, error)
}

// CPUAllocator pins targets that declare cpus or a cpuset.
type CPUAllocator interface {
	EnsureAssigned(owner, cpuset string, num int) ([]int, string, error)
	Release(owner string)
}

type Options struct {
	Runtime   container.Runtime
	Generator LoadRunner
	Prober    ReadinessProber
	Allocator CPUAllocator
	// Targets restricts the run to the named targets; empty means all.
	Targets        []string
	Version        string
	ConfigChecksum string
	LogTail        int
}

type Orchestrator struct {
	cfg       *config.BenchmarkConfig
	opts      Options
	scenarios map[string]*scenario.Scenario

	runID     string
	networkID string

	mu       sync.Mutex
	states   map[string]State
	outcomes []results.ScenarioResult
	failures []results.TargetFailure
}

// New compiles every scenario up front so that a broken expectation fails before any
// container is touched.
func New(cfg *config.BenchmarkConfig, opts Options) (*Orchestrator, error) {
	if opts.Runtime == nil {
		return nil, errors.New("a container runtime is required")
	}
	if opts.Generator == nil {
		opts.Generator = loadgen.New()
	}
	if opts.Prober == nil {
		opts.Prober = readiness.NewProber(cfg.Benchmark.Readiness)
	}
	if opts.LogTail <= 0 {
		opts.LogTail = defaultLogTail
	}

	for _, name := range opts.Targets {
		if cfg.GetTarget(name) == nil {
			return nil, fmt.Errorf("unknown target %q", name)
		}
	}

	compiled := make(map[string]*scenario.Scenario, len(cfg.Scenarios))
	for _, sc := range cfg.Scenarios {
		c, err := scenario.Compile(sc)
		if err != nil {
			return nil, err
		}
		compiled[sc.ID] = c
	}

	o := &Orchestrator{
		cfg:       cfg,
		opts:      opts,
		scenarios: compiled,
		runID:     uuid.NewString(),
		states:    make(map[string]State),
	}

	if o.opts.Allocator == nil && o.needsPinning() {
		allocator, err := cpuallocator.NewAllocator(host.GetHostInfo().CPUs, logging.GetLogger())
		if err != nil {
			return nil, fmt.Errorf("failed to create CPU allocator: %w", err)
		}
		o.opts.Allocator = allocator
	}

	return o, nil
}

func (o *Orchestrator) needsPinning() bool {
	for _, t := range o.selected() {
		if t.Pinned() {
			return true
		}
	}
	return false
}

func (o *Orchestrator) RunID() string {
	return o.runID
}

// State reports where a target is in its lifecycle.
func (o *Orchestrator) State(target string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.states[target]; ok {
		return s
	}
	return StatePending
}

func (o *Orchestrator) selected() []*config.TargetConfig {
	var targets []*config.TargetConfig
	for i := range o.cfg.Targets {
		t := &o.cfg.Targets[i]
		if len(o.opts.Targets) > 0 && !contains(o.opts.Targets, t.Name) {
			continue
		}
		targets = append(targets, t)
	}
	return targets
}

// Run processes the targets one after another and returns the merged report. Per-target
// problems end up in the report; an error is returned only when the run could not start.
// A cancelled ctx still yields a report flagged as cancelled.
func (o *Orchestrator) Run(ctx context.Context) (*results.RunReport, error) {
	logger := logging.GetLogger()
	startedAt := time.Now()

	logger.WithFields(logrus.Fields{
		"run_id":    o.runID,
		"benchmark": o.cfg.Benchmark.Name,
	}).Info("Starting benchmark run")

	if o.cfg.Benchmark.Network {
		name := "webserver-bench-" + o.runID[:8]
		id, err := o.opts.Runtime.CreateNetwork(ctx, name)
		if err != nil {
			return nil, err
		}
		o.networkID = id
		defer o.removeNetwork(ctx, name)
	}

	targets := o.selected()
	for _, t := range targets {
		if ctx.Err() != nil {
			logger.WithField("target", t.Name).Warn("Run cancelled, skipping target")
			o.fail(&StageError{Target: t.Name, Stage: results.StageBuild, Err: errRunCancelled})
			o.transition(t.Name, StateFailed)
			continue
		}
		o.runTarget(ctx, t)
	}

	order := results.Ordering{Scenarios: make([]string, 0, len(o.cfg.Scenarios))}
	for _, t := range targets {
		order.Targets = append(order.Targets, t.Name)
	}
	for _, sc := range o.cfg.Scenarios {
		order.Scenarios = append(order.Scenarios, sc.ID)
	}

	o.mu.Lock()
	report := results.Merge(order, o.outcomes, o.failures)
	o.mu.Unlock()

	report.RunID = o.runID
	report.Name = o.cfg.Benchmark.Name
	report.Version = o.opts.Version
	report.ConfigChecksum = o.opts.ConfigChecksum
	report.StartedAt = startedAt
	report.EndedAt = time.Now()
	report.Cancelled = ctx.Err() != nil
	report.Host = o.hostInfo(ctx)

	logger.WithFields(logrus.Fields{
		"run_id":    o.runID,
		"results":   len(report.Results),
		"failures":  len(report.Failures),
		"cancelled": report.Cancelled,
		"duration":  report.EndedAt.Sub(startedAt).Round(time.Millisecond),
	}).Info("Benchmark run finished")

	return report, nil
}

func (o *Orchestrator) hostInfo(ctx context.Context) *host.HostInfo {
	info := *host.GetHostInfo()
	versionCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if v, err := o.opts.Runtime.Version(versionCtx); err == nil {
		info.DockerVersion = v
	}
	return &info
}

func (o *Orchestrator) removeNetwork(ctx context.Context, name string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := o.opts.Runtime.RemoveNetwork(cleanupCtx, o.networkID); err != nil {
		logging.GetLogger().WithField("network_name", name).WithError(err).Warn("Failed to remove Docker network")
	}
}

func (o *Orchestrator) transition(target string, state State) {
	o.mu.Lock()
	o.states[target] = state
	o.mu.Unlock()

	metrics.RecordTransition(target, string(state))
	logging.GetLogger().WithFields(logrus.Fields{
		"target": target,
		"state":  state,
	}).Debug("Target state changed")
}

func (o *Orchestrator) fail(err *StageError) {
	failure := results.TargetFailure{
		Target:   err.Target,
		Stage:    err.Stage,
		Scenario: err.Scenario,
		Message:  err.Err.Error(),
		At:       time.Now(),
	}

	o.mu.Lock()
	o.failures = append(o.failures, failure)
	o.mu.Unlock()

	metrics.RecordFailure(failure)
	logging.GetLogger().WithFields(logrus.Fields{
		"target":   err.Target,
		"stage":    err.Stage,
		"scenario": err.Scenario,
	}).WithError(err.Err).Error("Target failure recorded")
}

func (o *Orchestrator) record(result results.ScenarioResult) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, result)
	o.mu.Unlock()
	metrics.RecordScenario(&result)
}

func (o *Orchestrator) runTarget(ctx context.Context, t *config.TargetConfig) {
	logger := logging.GetLogger().WithField("target", t.Name)
	rt := o.opts.Runtime

	o.transition(t.Name, StateBuilding)
	if err := rt.PrepareImage(ctx, t); err != nil {
		o.fail(&StageError{Target: t.Name, Stage: results.StageBuild, Err: err})
		o.transition(t.Name, StateFailed)
		return
	}

	o.transition(t.Name, StateStarting)
	spec := t
	if t.Pinned() && o.opts.Allocator != nil {
		_, cpuset, err := o.opts.Allocator.EnsureAssigned(t.Name, t.Cpuset, t.CPUs)
		if err != nil {
			o.fail(&StageError{Target: t.Name, Stage: results.StageStart, Err: fmt.Errorf("cpu pinning: %w", err)})
			o.transition(t.Name, StateFailed)
			return
		}
		defer o.opts.Allocator.Release(t.Name)
		pinned := *t
		pinned.Cpuset = cpuset
		spec = &pinned
	}

	networkName := ""
	if o.networkID != "" {
		networkName = "webserver-bench-" + o.runID[:8]
	}
	instance, err := rt.Start(ctx, spec, container.StartOptions{
		RunID:       o.runID,
		NetworkName: networkName,
		HostAddress: o.cfg.GetAddress(),
	})

	final := StateTornDown
	if instance != nil {
		defer func() {
			o.teardown(ctx, t, instance)
			o.transition(t.Name, final)
		}()
	} else {
		defer func() { o.transition(t.Name, final) }()
	}
	if err != nil {
		o.fail(&StageError{Target: t.Name, Stage: results.StageStart, Err: err})
		final = StateFailed
		return
	}

	o.transition(t.Name, StateProbingReadiness)
	healthURL := o.baseURL(instance) + t.GetHealthPath()
	res, err := o.opts.Prober.Wait(ctx, healthURL)
	if err != nil {
		o.fail(&StageError{Target: t.Name, Stage: results.StageReadiness, Err: o.readinessError(ctx, instance, err)})
		final = StateFailed
		return
	}
	logger.WithFields(logrus.Fields{
		"attempts": res.Attempts,
		"elapsed":  res.Elapsed.Round(time.Millisecond),
	}).Info("Target ready")

	o.transition(t.Name, StateRunningScenarios)
	for _, sc := range o.cfg.ScenariosFor(t) {
		if ctx.Err() != nil {
			logger.WithField("scenario", sc.ID).Warn("Run cancelled, skipping scenario")
			o.fail(&StageError{Target: t.Name, Stage: results.StageScenario, Scenario: sc.ID, Err: errScenarioCancelled})
			continue
		}
		result, err := o.runScenario(ctx, t, instance, o.scenarios[sc.ID])
		if err != nil {
			o.fail(err)
			continue
		}
		o.record(*result)
	}
}

// readinessError attaches the tail of the container log, which usually says why the
// server never came up.
func (o *Orchestrator) readinessError(ctx context.Context, instance *container.Instance, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cancelled while waiting for readiness: %w", err)
	}

	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	tail, logErr := o.opts.Runtime.Logs(logCtx, instance.ID, o.opts.LogTail)
	tail = strings.TrimSpace(tail)
	if logErr != nil || tail == "" {
		return err
	}
	return fmt.Errorf("%w\n--- last %d log lines ---\n%s", err, o.opts.LogTail, tail)
}

func (o *Orchestrator) runScenario(ctx context.Context, t *config.TargetConfig, instance *container.Instance, sc *scenario.Scenario) (*results.ScenarioResult, *StageError) {
	logger := logging.GetLogger().WithFields(logrus.Fields{
		"target":   t.Name,
		"scenario": sc.ID(),
	})
	logger.WithFields(logrus.Fields{
		"concurrency": sc.Config.Concurrency,
		"duration":    sc.Config.Duration.Std(),
		"requests":    sc.Config.Requests,
	}).Info("Running scenario")

	var collector *collectors.ContainerCollector
	collect := o.cfg.Benchmark.Collect
	if collect.Docker || collect.Perf {
		collector = collectors.NewContainerCollector(o.opts.Runtime.Stats(), instance.ID, collectors.CollectorConfig{
			Frequency:    collect.Frequency.Std(),
			EnableDocker: collect.Docker,
			EnablePerf:   collect.Perf,
		})
		collector.Start(ctx)
	}

	run, err := o.opts.Generator.Run(ctx, loadgen.Target{Name: t.Name, BaseURL: o.baseURL(instance)}, sc)

	var resources *results.ResourceUsage
	if collector != nil {
		resources = collector.Stop().Summarize()
	}

	if err != nil {
		return nil, &StageError{Target: t.Name, Stage: results.StageScenario, Scenario: sc.ID(), Err: err}
	}
	if len(run.Samples) == 0 {
		return nil, &StageError{Target: t.Name, Stage: results.StageScenario, Scenario: sc.ID(), Err: errors.New("cancelled before any request completed")}
	}

	result := results.Reduce(t.Name, sc.ID(), run.Samples)
	result.Incomplete = run.Incomplete
	result.Resources = resources

	logger.WithFields(logrus.Fields{
		"samples":    result.SampleCount,
		"successes":  result.SuccessCount,
		"p50":        result.Latency.P50,
		"p99":        result.Latency.P99,
		"throughput": fmt.Sprintf("%.1f/s", result.Throughput),
		"incomplete": result.Incomplete,
	}).Info("Scenario finished")

	return &result, nil
}

// teardown runs on every exit path, so it must not inherit the run's cancellation.
func (o *Orchestrator) teardown(ctx context.Context, t *config.TargetConfig, instance *container.Instance) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	logger := logging.GetLogger().WithFields(logrus.Fields{
		"target":       t.Name,
		"container_id": shortID(instance.ID),
	})
	if err := o.opts.Runtime.Remove(cleanupCtx, instance.ID); err != nil {
		logger.WithError(err).Warn("Failed to remove container")
		return
	}
	logger.Info("Container removed")
}

func (o *Orchestrator) baseURL(instance *container.Instance) string {
	return "http://" + net.JoinHostPort(o.cfg.GetAddress(), strconv.Itoa(instance.HostPort))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
