package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/jobs"
	"github.com/fyrsmithlabs/pdcad/internal/platform"
	"github.com/fyrsmithlabs/pdcad/internal/registry"
	"github.com/fyrsmithlabs/pdcad/internal/roles"
	"github.com/fyrsmithlabs/pdcad/internal/team"
)

const instrumentationName = "github.com/fyrsmithlabs/pdcad/internal/orchestrator"

var (
	// ErrDepthExceeded means the caller's delegation chain is already at
	// the configured maximum.
	ErrDepthExceeded = errors.New("delegation depth exceeded")
	// ErrSelfDelegation covers both a role delegating to itself and an
	// orchestrator role delegating to another orchestrator role.
	ErrSelfDelegation = errors.New("self delegation not allowed")
	// ErrSessionCreateFailed wraps platform session-creation failures.
	ErrSessionCreateFailed = errors.New("session creation failed")
	// ErrDispatchFailed wraps platform prompt-dispatch failures.
	ErrDispatchFailed = errors.New("prompt dispatch failed")
)

// Config holds orchestrator tuning.
type Config struct {
	// MaxDepth bounds recursive delegation chains.
	MaxDepth int
	// SyncWait is the ceiling for a synchronous delegation before it
	// degrades to an async job.
	SyncWait time.Duration
	// PollInterval paces the liveness polling fallback.
	PollInterval time.Duration
	// IdleRechecks and IdleRecheckDelay damp false idles: an idle
	// session without a finish marker is re-checked this many times
	// before its transcript fragment is accepted as-is.
	IdleRechecks     int
	IdleRecheckDelay time.Duration
	// ResultMaxBytes caps result text returned and persisted.
	ResultMaxBytes int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth:         3,
		SyncWait:         30 * time.Minute,
		PollInterval:     10 * time.Second,
		IdleRechecks:     3,
		IdleRecheckDelay: 2 * time.Second,
		ResultMaxBytes:   16 * 1024,
	}
}

// Deps are the collaborating services.
type Deps struct {
	Client   platform.Client
	Roles    *roles.Registry
	Registry *registry.Registry
	Jobs     *jobs.Store
	Team     *team.Directory
}

// Options are the optional knobs of Delegate.
type Options struct {
	// Background returns immediately with a running job id.
	Background bool
	// Model overrides the role's default model.
	Model string
	// CallerHandle identifies the delegating session; its registry
	// entry supplies the caller's role and depth.
	CallerHandle platform.Handle
	// ContinueSession reuses an existing session instead of creating
	// one. Role and model are recovered from its registry entry when
	// the caller leaves them empty.
	ContinueSession platform.Handle
	// AbortSession aborts the given session before anything else. With
	// an empty task this is a standalone abort.
	AbortSession platform.Handle
}

// Result is the outcome of a Delegate or Status call.
type Result struct {
	JobID   string          `json:"job_id,omitempty"`
	Handle  platform.Handle `json:"handle,omitempty"`
	Status  jobs.Status     `json:"status"`
	Message string          `json:"message,omitempty"`
	Output  string          `json:"output,omitempty"`
}

// Orchestrator coordinates delegated agent sessions.
type Orchestrator struct {
	config Config
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer

	delegations metric.Int64Counter
}

// New creates an orchestrator. logger may be nil.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Client == nil || deps.Roles == nil || deps.Registry == nil ||
		deps.Jobs == nil || deps.Team == nil {
		return nil, errors.New("orchestrator: all deps are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.SyncWait <= 0 {
		cfg.SyncWait = def.SyncWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.IdleRechecks < 0 {
		cfg.IdleRechecks = def.IdleRechecks
	}
	if cfg.IdleRecheckDelay <= 0 {
		cfg.IdleRecheckDelay = def.IdleRecheckDelay
	}
	if cfg.ResultMaxBytes <= 0 {
		cfg.ResultMaxBytes = def.ResultMaxBytes
	}

	meter := otel.Meter(instrumentationName)
	delegations, err := meter.Int64Counter("pdcad.delegations",
		metric.WithDescription("Delegations started, by mode"))
	if err != nil {
		return nil, fmt.Errorf("creating delegation counter: %w", err)
	}

	return &Orchestrator{
		config:      cfg,
		deps:        deps,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		delegations: delegations,
	}, nil
}

// Delegate hands a task to a role. Guards run before any session is
// created, so a rejected delegation leaves no handle and no teammate.
func (o *Orchestrator) Delegate(ctx context.Context, role, task string, opts Options) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.delegate")
	defer span.End()

	if opts.AbortSession != "" {
		res, err := o.AbortSession(ctx, opts.AbortSession)
		if err != nil {
			return nil, err
		}
		if task == "" {
			return res, nil
		}
		// Combined abort+redirect: fall through to a fresh delegation.
	}

	// Role and model recovery for continued sessions.
	if opts.ContinueSession != "" {
		if prevRole, _, ok := o.deps.Registry.Lookup(opts.ContinueSession); ok && role == "" {
			role = prevRole
		}
	}

	roleRec, err := o.deps.Roles.Lookup(role)
	if err != nil {
		return nil, err
	}
	model := opts.Model
	if model == "" {
		model = roleRec.Model
	}

	callerRole, callerDepth := "", 0
	if opts.CallerHandle != "" {
		if r, d, ok := o.deps.Registry.Lookup(opts.CallerHandle); ok {
			callerRole, callerDepth = r, d
		}
	}
	if callerRole != "" {
		if callerRole == role {
			return nil, fmt.Errorf("%w: %q cannot delegate to itself", ErrSelfDelegation, role)
		}
		if o.deps.Roles.IsOrchestrator(callerRole) && roleRec.Orchestrator {
			return nil, fmt.Errorf("%w: orchestrator %q cannot delegate to orchestrator %q",
				ErrSelfDelegation, callerRole, role)
		}
	}
	if callerDepth >= o.config.MaxDepth {
		return nil, fmt.Errorf("%w: caller depth %d at maximum %d",
			ErrDepthExceeded, callerDepth, o.config.MaxDepth)
	}
	depth := callerDepth + 1

	handle := opts.ContinueSession
	created := false
	if handle == "" {
		handle, err = o.deps.Client.CreateSession(ctx, opts.CallerHandle, task)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionCreateFailed, err)
		}
		created = true
	}

	jobID := uuid.NewString()
	name := fmt.Sprintf("%s-%s", role, jobID[:8])

	// Waiter registration precedes dispatch. Dispatch-then-register
	// loses completions that land in the gap.
	o.deps.Registry.Register(handle, role, depth)
	var done <-chan struct{}
	if !opts.Background {
		done, err = o.deps.Registry.WaitForCompletion(handle)
		if err != nil {
			o.cleanupSpawn(ctx, handle, "", created)
			return nil, err
		}
	}

	if err := o.deps.Team.Spawn(ctx, name, role, task, jobID, handle); err != nil {
		o.cleanupSpawn(ctx, handle, "", created)
		return nil, err
	}

	if err := o.deps.Client.DispatchPrompt(ctx, handle, role, task, model); err != nil {
		o.cleanupSpawn(ctx, handle, name, created)
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	rec := &jobs.Record{
		ID:     jobID,
		Status: jobs.StatusRunning,
		Role:   role,
		Handle: handle,
		Task:   summarize(task),
		Depth:  depth,
	}
	if err := o.deps.Jobs.Put(ctx, rec); err != nil {
		// Without a job record the reaper can never finalize this
		// handle, so the spawn must be unwound here.
		o.cleanupSpawn(ctx, handle, name, created)
		return nil, fmt.Errorf("persisting job record: %w", err)
	}

	// Every delegation passes through working, even ones that complete
	// before anyone observes them.
	if err := o.deps.Team.Transition(ctx, name, team.StatusWorking); err != nil {
		o.logger.Warn("teammate transition to working failed",
			zap.String("name", name), zap.Error(err))
	}

	mode := "sync"
	if opts.Background {
		mode = "background"
	}
	o.delegations.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	o.logger.Info("delegation dispatched",
		zap.String("job_id", jobID),
		zap.String("role", role),
		zap.String("handle", string(handle)),
		zap.Int("depth", depth),
		zap.String("mode", mode))

	if opts.Background {
		return &Result{
			JobID:   jobID,
			Handle:  handle,
			Status:  jobs.StatusRunning,
			Message: fmt.Sprintf("delegation running in background as job %s", jobID),
		}, nil
	}

	return o.waitSync(ctx, jobID, name, handle, done)
}

// cleanupSpawn removes partially-created state after a failed spawn.
func (o *Orchestrator) cleanupSpawn(ctx context.Context, handle platform.Handle, teammate string, created bool) {
	o.deps.Registry.Unregister(handle)
	if teammate != "" {
		if err := o.deps.Team.Remove(ctx, teammate); err != nil {
			o.logger.Debug("spawn cleanup: teammate removal failed",
				zap.String("name", teammate), zap.Error(err))
		}
	}
	if created {
		if err := o.deps.Client.Abort(ctx, handle); err != nil {
			o.logger.Debug("spawn cleanup: session abort failed",
				zap.String("handle", string(handle)), zap.Error(err))
		}
	}
}

// waitSync races the registry waiter, the polling fallback, and caller
// cancellation. First to settle wins; the others are cancelled through
// the shared context.
func (o *Orchestrator) waitSync(ctx context.Context, jobID, name string, handle platform.Handle, done <-chan struct{}) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.wait_sync")
	defer span.End()

	deadline := time.NewTimer(o.config.SyncWait)
	defer deadline.Stop()

	for {
		waitCtx, cancel := context.WithCancel(ctx)
		idle := o.pollForIdle(waitCtx, handle)

		var timedOut, cancelled bool
		select {
		case <-done:
		case <-idle:
		case <-deadline.C:
			timedOut = true
		case <-ctx.Done():
			cancelled = true
		}
		cancel()

		if cancelled {
			// Caller-driven abort: capture what exists, then clean up.
			res, err := o.AbortSession(context.WithoutCancel(ctx), handle)
			if err != nil {
				return nil, err
			}
			return res, nil
		}
		if timedOut {
			o.logger.Info("sync wait ceiling reached, degrading to async job",
				zap.String("job_id", jobID))
			return &Result{
				JobID:   jobID,
				Handle:  handle,
				Status:  jobs.StatusRunning,
				Message: fmt.Sprintf("still running; check job %s for the result", jobID),
			}, nil
		}

		transcript, confirmed := o.confirmCompletion(ctx, handle)
		if !confirmed {
			// False idle: the session woke back up. If the waiter already
			// fired for it, drop it so the next round leans on polling
			// alone instead of spinning on a closed channel.
			select {
			case <-done:
				done = nil
			default:
			}
			continue
		}
		return o.finalize(ctx, jobID, name, handle, transcript)
	}
}

// pollForIdle reports liveness-idle through the returned channel. It is
// the safety net for missed completion events.
func (o *Orchestrator) pollForIdle(ctx context.Context, handle platform.Handle) <-chan struct{} {
	idle := make(chan struct{})
	go func() {
		ticker := time.NewTicker(o.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			liveness, err := o.deps.Client.PollLiveness(ctx, []platform.Handle{handle})
			if err != nil {
				o.logger.Debug("liveness poll failed", zap.Error(err))
				continue
			}
			if liveness[handle] == platform.LivenessIdle {
				close(idle)
				return
			}
		}
	}()
	return idle
}

// confirmCompletion decides whether an idle report is trustworthy. A
// finish marker after the last user turn settles it immediately; without
// one, a bounded number of short re-checks rules out a transient idle.
// Returns (transcript, false) when the session turns out to be active.
func (o *Orchestrator) confirmCompletion(ctx context.Context, handle platform.Handle) (*platform.Transcript, bool) {
	transcript, err := o.deps.Client.FetchTranscript(ctx, handle)
	if err != nil {
		o.logger.Warn("transcript fetch failed during confirmation",
			zap.String("handle", string(handle)), zap.Error(err))
		transcript = &platform.Transcript{Handle: handle}
	}
	if transcript.Completed() {
		return transcript, true
	}

	for i := 0; i < o.config.IdleRechecks; i++ {
		select {
		case <-ctx.Done():
			return transcript, true
		case <-time.After(o.config.IdleRecheckDelay):
		}
		liveness, err := o.deps.Client.PollLiveness(ctx, []platform.Handle{handle})
		if err != nil {
			continue
		}
		if liveness[handle] == platform.LivenessActive {
			return nil, false
		}
		if t, err := o.deps.Client.FetchTranscript(ctx, handle); err == nil {
			transcript = t
			if transcript.Completed() {
				return transcript, true
			}
		}
	}
	// Still no activity after the re-checks: accept the fragment as-is.
	return transcript, true
}

// finalize records a confirmed completion across job, team, and registry.
func (o *Orchestrator) finalize(ctx context.Context, jobID, name string, handle platform.Handle, transcript *platform.Transcript) (*Result, error) {
	output := transcript.TailText(o.config.ResultMaxBytes)

	rec, err := o.deps.Jobs.Finish(ctx, jobID, jobs.StatusCompleted, output, "")
	if err != nil && !errors.Is(err, jobs.ErrTerminal) {
		return nil, err
	}
	if name != "" {
		if err := o.deps.Team.Transition(ctx, name, team.StatusCompleted); err != nil {
			o.logger.Debug("teammate completion transition failed",
				zap.String("name", name), zap.Error(err))
		}
	}
	o.deps.Registry.Unregister(handle)

	return &Result{
		JobID:   jobID,
		Handle:  handle,
		Status:  rec.Status,
		Message: "delegation completed",
		Output:  rec.Result,
	}, nil
}

// AbortSession aborts a running delegation. The partial transcript is
// captured best-effort before the abort and persisted to the job record;
// capture failures are swallowed, an abort must not fail because the
// transcript was unreadable.
func (o *Orchestrator) AbortSession(ctx context.Context, handle platform.Handle) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.abort")
	defer span.End()

	var partial string
	if transcript, err := o.deps.Client.FetchTranscript(ctx, handle); err == nil {
		partial = transcript.TailText(o.config.ResultMaxBytes)
	} else {
		o.logger.Debug("partial transcript capture failed",
			zap.String("handle", string(handle)), zap.Error(err))
	}

	if err := o.deps.Client.Abort(ctx, handle); err != nil {
		o.logger.Warn("platform abort failed",
			zap.String("handle", string(handle)), zap.Error(err))
	}

	res := &Result{
		Handle: handle,
		Status: jobs.StatusAborted,
		Output: partial,
		Message: fmt.Sprintf("delegation aborted; session %s can be resumed via continue_session",
			handle),
	}

	if rec := o.jobForHandle(ctx, handle); rec != nil {
		if finished, err := o.deps.Jobs.Finish(ctx, rec.ID, jobs.StatusAborted, partial, ""); err == nil {
			res.JobID = finished.ID
		} else if !errors.Is(err, jobs.ErrTerminal) {
			o.logger.Warn("persisting abort on job record failed",
				zap.String("job_id", rec.ID), zap.Error(err))
		}
		if tm := o.teammateForHandle(ctx, handle); tm != nil {
			if err := o.deps.Team.Transition(ctx, tm.Name, team.StatusAborted); err != nil {
				o.logger.Debug("teammate abort transition failed",
					zap.String("name", tm.Name), zap.Error(err))
			}
		}
	}

	o.deps.Registry.Unregister(handle)
	return res, nil
}

func (o *Orchestrator) jobForHandle(ctx context.Context, handle platform.Handle) *jobs.Record {
	running, err := o.deps.Jobs.Running(ctx)
	if err != nil {
		o.logger.Debug("job lookup by handle failed", zap.Error(err))
		return nil
	}
	for _, rec := range running {
		if rec.Handle == handle {
			return rec
		}
	}
	return nil
}

func (o *Orchestrator) teammateForHandle(ctx context.Context, handle platform.Handle) *team.Teammate {
	list, err := o.deps.Team.List(ctx)
	if err != nil {
		return nil
	}
	for _, tm := range list {
		if tm.Handle == handle && !tm.Status.Terminal() {
			return tm
		}
	}
	return nil
}

// Status looks up a job by id.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*Result, error) {
	rec, err := o.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	res := &Result{
		JobID:  rec.ID,
		Handle: rec.Handle,
		Status: rec.Status,
		Output: rec.Result,
	}
	if rec.Status == jobs.StatusRunning {
		// Best-effort live peek at the partial transcript.
		if transcript, err := o.deps.Client.FetchTranscript(ctx, rec.Handle); err == nil {
			res.Output = transcript.TailText(o.config.ResultMaxBytes)
		}
	}
	if rec.Error != "" {
		res.Message = rec.Error
	}
	return res, nil
}

// Reap performs one liveness sweep over registered sessions, completing
// background jobs whose sessions have gone idle. The daemon runs it on
// a timer; tests call it directly.
func (o *Orchestrator) Reap(ctx context.Context) error {
	handles := o.deps.Registry.Handles()
	if len(handles) == 0 {
		return nil
	}
	liveness, err := o.deps.Client.PollLiveness(ctx, handles)
	if err != nil {
		return fmt.Errorf("reap liveness poll: %w", err)
	}

	for handle, state := range liveness {
		if state != platform.LivenessIdle {
			continue
		}
		o.deps.Registry.Resolve(handle)

		rec := o.jobForHandle(ctx, handle)
		if rec == nil {
			continue
		}
		transcript, confirmed := o.confirmCompletion(ctx, handle)
		if !confirmed {
			continue
		}
		tmName := ""
		if tm := o.teammateForHandle(ctx, handle); tm != nil {
			tmName = tm.Name
		}
		if _, err := o.finalize(ctx, rec.ID, tmName, handle, transcript); err != nil {
			o.logger.Warn("background job finalization failed",
				zap.String("job_id", rec.ID), zap.Error(err))
		}
	}
	return nil
}

// Run reaps on the poll interval until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Reap(ctx); err != nil {
				o.logger.Debug("reap sweep failed", zap.Error(err))
			}
		}
	}
}

// OnSessionEvent is the entry point for host liveness events. It never
// blocks: resolution is fire-and-forget against registered futures.
func (o *Orchestrator) OnSessionEvent(handle platform.Handle) {
	o.deps.Registry.Resolve(handle)
}

func summarize(task string) string {
	const max = 200
	if len(task) <= max {
		return task
	}
	return task[:max] + "..."
}
