package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/catletctl/pkg/telemetry"
)

const (
	// DefaultBootTimeout bounds the wait for a started catlet to accept
	// connections.
	DefaultBootTimeout = 10 * time.Minute

	// DefaultSSHPort is used when the target's credentials set no port.
	DefaultSSHPort = 22
)

// Orchestrator decides and issues the remote calls that move a catlet from
// its observed state to the state an action asks for.
type Orchestrator struct {
	api      ComputeAPI
	tracker  *Tracker
	cache    *StatusCache
	resolver *Resolver

	projects          ProjectAPI
	autoCreateProject bool

	provisioner  Provisioner
	communicator Communicator
	bootTimeout  time.Duration
	preDestroy   PreDestroyHook

	events  chan<- ProgressEvent
	journal OperationJournal
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracker sets the operation tracker.
func WithTracker(t *Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithStatusCache sets a (typically shared) status cache.
func WithStatusCache(c *StatusCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithResolver sets the configuration resolver.
func WithResolver(r *Resolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithProjects makes creation ensure the catlet's project exists first.
// With autoCreate false a missing project is a configuration error.
func WithProjects(p ProjectAPI, autoCreate bool) Option {
	return func(o *Orchestrator) {
		o.projects = p
		o.autoCreateProject = autoCreate
	}
}

// WithProvisioner sets the provisioner run by bring-up of a running catlet
// and by the provision action.
func WithProvisioner(p Provisioner) Option {
	return func(o *Orchestrator) { o.provisioner = p }
}

// WithCommunicator makes every start wait until the catlet accepts
// connections, for at most timeout (DefaultBootTimeout when zero).
func WithCommunicator(c Communicator, timeout time.Duration) Option {
	return func(o *Orchestrator) {
		o.communicator = c
		if timeout > 0 {
			o.bootTimeout = timeout
		}
	}
}

// WithPreDestroyHook sets a hook run before a running catlet is destroyed.
func WithPreDestroyHook(h PreDestroyHook) Option {
	return func(o *Orchestrator) { o.preDestroy = h }
}

// WithProgress sets the channel receiving progress events.
func WithProgress(events chan<- ProgressEvent) Option {
	return func(o *Orchestrator) { o.events = events }
}

// WithJournal sets the journal recording tracked operations.
func WithJournal(j OperationJournal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// NewOrchestrator creates an orchestrator driving api.
func NewOrchestrator(api ComputeAPI, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:               api,
		autoCreateProject: true,
		bootTimeout:       DefaultBootTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracker == nil {
		o.tracker = NewTracker(api, WithTrackerMetrics(o.metrics), WithTrackerTracer(o.tracer))
	}
	if o.cache == nil {
		o.cache = NewStatusCache(api, WithCacheMetrics(o.metrics))
	}
	if o.resolver == nil {
		o.resolver = NewResolver()
	}
	return o
}

// Cache returns the orchestrator's status cache.
func (o *Orchestrator) Cache() *StatusCache {
	return o.cache
}

// Reconcile observes the target's catlet and runs the steps the transition
// table prescribes for action. t.ID is updated as steps progress and the
// returned Outcome always carries the current local id, also on error.
// Any failing step aborts the remaining ones; nothing is retried.
func (o *Orchestrator) Reconcile(ctx context.Context, action Action, t *Target) (outcome Outcome, err error) {
	if err := action.Validate(); err != nil {
		return Outcome{ID: t.ID}, NewConfigurationError("unsupported action", err)
	}

	ctx, span := o.tracer.StartReconcileSpan(ctx, string(action), t.Spec.Name, t.ID)
	timer := telemetry.NewTimer()
	defer func() {
		telemetry.EndSpan(span, err)
		result := "ok"
		if err != nil {
			result = "error"
			o.metrics.RecordError(string(KindOf(err)))
		}
		o.metrics.RecordReconcile(string(action), string(outcome.State), result, timer.Duration())
	}()

	logger := log.With().
		Str("catlet", t.Spec.Name).
		Str("action", string(action)).
		Logger()

	var req *CreateRequest
	if action == ActionUp {
		req, err = o.resolver.ResolveTarget(t)
		if err != nil {
			return Outcome{ID: t.ID}, err
		}
	}

	summary, err := o.observe(ctx, t)
	if err != nil {
		return Outcome{ID: t.ID}, err
	}
	state := summary.State()

	steps, err := Plan(action, state)
	if err != nil {
		return Outcome{ID: t.ID, State: state}, err
	}

	logger.Info().
		Str("catlet_id", t.ID).
		Str("state", string(state)).
		Interface("steps", steps).
		Msg("Reconciling catlet")

	outcome = Outcome{ID: t.ID, State: state, Steps: steps}
	if len(steps) == 0 {
		outcome.Message = noopMessage(action, state, t.Spec.Name)
	}

	for _, step := range steps {
		switch step {
		case StepNotCreated:
			outcome.Message = fmt.Sprintf("catlet %s is not created", t.Spec.Name)
		case StepNotRunning:
			outcome.Message = fmt.Sprintf("catlet %s is not running", t.Spec.Name)
		case StepCreate:
			summary, err = o.create(ctx, action, t, req)
		case StepStart:
			summary, err = o.start(ctx, action, t)
		case StepStop:
			summary, err = o.stop(ctx, action, t)
		case StepDestroy:
			summary, err = o.destroy(ctx, action, t, summary)
		case StepProvision:
			err = o.provision(ctx, t, summary)
		}

		outcome.ID = t.ID
		outcome.State = summary.State()
		if err != nil {
			logger.Error().
				Err(err).
				Str("catlet_id", t.ID).
				Str("step", string(step)).
				Msg("Reconcile step failed")
			return outcome, err
		}
	}

	logger.Info().
		Str("catlet_id", t.ID).
		Str("state", string(outcome.State)).
		Dur("duration", timer.Duration()).
		Msg("Reconciled catlet")

	return outcome, nil
}

func noopMessage(action Action, state ReconciledState, name string) string {
	switch {
	case state == StateAbsent:
		return fmt.Sprintf("catlet %s is not created", name)
	case action == ActionHalt:
		return fmt.Sprintf("catlet %s is already stopped", name)
	case action == ActionResume:
		return fmt.Sprintf("catlet %s is already running", name)
	default:
		return ""
	}
}

// observe returns the current summary of the target's catlet. A known id is
// refreshed; otherwise the cached name lookup is used. When the name lookup
// resolves a different id, t.ID is corrected, the cache invalidated and the
// catlet fetched again by its id. A local id that no longer exists is
// cleared.
func (o *Orchestrator) observe(ctx context.Context, t *Target) (Summary, error) {
	var summary Summary
	if t.ID != "" {
		s, err := o.cache.Refresh(ctx, t.Ref())
		if err != nil {
			return Absent, err
		}
		summary = s
	} else {
		summary = o.cache.Lookup(ctx, t.Ref())
	}

	if summary.IsAbsent() {
		if t.ID != "" {
			log.Warn().
				Str("catlet", t.Spec.Name).
				Str("catlet_id", t.ID).
				Msg("Catlet no longer exists, clearing local id")
			t.ID = ""
			o.cache.Invalidate()
		}
		return Absent, nil
	}

	if summary.ID() != t.ID {
		log.Info().
			Str("catlet", t.Spec.Name).
			Str("old_id", t.ID).
			Str("new_id", summary.ID()).
			Msg("Catlet id corrected by name lookup")
		t.ID = summary.ID()
		o.cache.Invalidate()

		// The name match may come from an older bulk list.
		fresh, err := o.cache.Refresh(ctx, CatletRef{ID: t.ID})
		if err != nil {
			return Absent, err
		}
		if fresh.IsAbsent() {
			t.ID = ""
			return Absent, nil
		}
		summary = fresh
	}
	return summary, nil
}

func (o *Orchestrator) create(ctx context.Context, action Action, t *Target, req *CreateRequest) (Summary, error) {
	ctx, span := o.tracer.StartStepSpan(ctx, string(StepCreate), t.ID)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	if req == nil {
		if req, err = o.resolver.ResolveTarget(t); err != nil {
			return Absent, err
		}
	}

	if err = o.ensureProject(ctx, req.Spec.Project); err != nil {
		return Absent, err
	}

	if err = o.validateRemote(ctx, req); err != nil {
		return Absent, err
	}

	operationID, err := o.api.SubmitCreate(ctx, req)
	if err != nil {
		return Absent, err
	}

	result, err := o.track(ctx, action, StepCreate, t, operationID)
	o.cache.Invalidate()
	if err != nil {
		if id := SnapshotOf(err).CatletID(); id != "" {
			t.ID = id
		}
		return Absent, err
	}

	id := result.CatletID()
	if id == "" {
		log.Warn().
			Str("catlet", t.Spec.Name).
			Str("operation_id", operationID).
			Msg("Create operation reported no catlet, looking it up by name")
		summary := o.cache.Lookup(ctx, CatletRef{Name: t.Spec.Name})
		if summary.IsAbsent() {
			err = NewReconciliationError("created catlet could not be found", nil).WithOperation(operationID)
			return Absent, err
		}
		id = summary.ID()
	}
	t.ID = id

	log.Info().
		Str("catlet", t.Spec.Name).
		Str("catlet_id", id).
		Msg("Catlet created")

	summary := o.cache.Lookup(ctx, t.Ref())
	if summary.IsAbsent() {
		// The list may lag behind the operation; the catlet exists stopped.
		summary = Found(CatletStatus{ID: id, Name: t.Spec.Name, Status: "stopped"})
	}
	return summary, nil
}

func (o *Orchestrator) ensureProject(ctx context.Context, project string) error {
	if o.projects == nil || project == "" {
		return nil
	}

	_, err := o.projects.GetProject(ctx, project)
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return err
	}
	if !o.autoCreateProject {
		return NewConfigurationError(fmt.Sprintf("project %s does not exist", project), nil)
	}

	log.Info().Str("project", project).Msg("Creating project")
	operationID, err := o.projects.SubmitCreateProject(ctx, project)
	if err != nil {
		return err
	}
	if _, err := o.tracker.Wait(ctx, operationID, o.events); err != nil {
		return err
	}
	return nil
}

// validateRemote asks the service to validate req. An unreachable or failing
// validation endpoint only logs a warning.
func (o *Orchestrator) validateRemote(ctx context.Context, req *CreateRequest) error {
	res, err := o.api.ValidateSpec(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().
			Err(err).
			Str("catlet", req.Spec.Name).
			Msg("Remote validation unavailable, continuing")
		return nil
	}
	if res == nil || res.Valid {
		return nil
	}

	cfgErr := NewConfigurationError("catlet specification rejected by remote validation", nil)
	for _, issue := range res.Errors {
		if issue.Member != "" {
			cfgErr.WithDetail(issue.Member + ": " + issue.Message)
		} else {
			cfgErr.WithDetail(issue.Message)
		}
	}
	return cfgErr
}

func (o *Orchestrator) start(ctx context.Context, action Action, t *Target) (Summary, error) {
	ctx, span := o.tracer.StartStepSpan(ctx, string(StepStart), t.ID)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	operationID, err := o.api.SubmitStart(ctx, t.ID)
	if err != nil {
		return o.currentSummary(ctx, t), err
	}
	if _, err = o.track(ctx, action, StepStart, t, operationID); err != nil {
		return o.currentSummary(ctx, t), err
	}

	summary, err := o.cache.Refresh(ctx, CatletRef{ID: t.ID})
	if err != nil {
		return Absent, err
	}

	if o.communicator != nil {
		summary, err = o.waitForCommunicator(ctx, t)
		if err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (o *Orchestrator) stop(ctx context.Context, action Action, t *Target) (Summary, error) {
	ctx, span := o.tracer.StartStepSpan(ctx, string(StepStop), t.ID)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	mode := t.StopMode
	if mode == "" {
		mode = StopGraceful
	}

	operationID, err := o.api.SubmitStop(ctx, t.ID, mode)
	if err != nil {
		return o.currentSummary(ctx, t), err
	}
	if _, err = o.track(ctx, action, StepStop, t, operationID); err != nil {
		return o.currentSummary(ctx, t), err
	}

	summary, err := o.cache.Refresh(ctx, CatletRef{ID: t.ID})
	return summary, err
}

func (o *Orchestrator) destroy(ctx context.Context, action Action, t *Target, observed Summary) (Summary, error) {
	ctx, span := o.tracer.StartStepSpan(ctx, string(StepDestroy), t.ID)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	if o.preDestroy != nil && observed.State() == StateRunning {
		if hookErr := o.preDestroy(ctx, t, o.connectionInfo(observed, t)); hookErr != nil {
			log.Warn().
				Err(hookErr).
				Str("catlet", t.Spec.Name).
				Msg("Pre-destroy hook failed, destroying anyway")
		}
	}

	operationID, err := o.api.SubmitDestroy(ctx, t.ID)
	switch {
	case IsNotFound(err):
		err = nil
	case err != nil:
		return observed, err
	default:
		if _, err = o.track(ctx, action, StepDestroy, t, operationID); err != nil {
			return o.currentSummary(ctx, t), err
		}
	}

	summary, err := o.cache.Refresh(ctx, CatletRef{ID: t.ID})
	if err != nil {
		return observed, err
	}
	if !summary.IsAbsent() {
		err = NewReconciliationError("catlet still exists after destroy", nil).WithCatlet(t.ID)
		return summary, err
	}

	log.Info().
		Str("catlet", t.Spec.Name).
		Str("catlet_id", t.ID).
		Msg("Catlet destroyed")
	t.ID = ""
	o.cache.Invalidate()
	return Absent, nil
}

func (o *Orchestrator) provision(ctx context.Context, t *Target, observed Summary) error {
	if o.provisioner == nil {
		log.Debug().Str("catlet", t.Spec.Name).Msg("No provisioner configured")
		return nil
	}

	ctx, span := o.tracer.StartStepSpan(ctx, string(StepProvision), t.ID)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	info := o.connectionInfo(observed, t)
	if info == nil {
		err = NewReconciliationError("running catlet has no reachable address", nil).WithCatlet(t.ID)
		return err
	}

	log.Info().
		Str("catlet", t.Spec.Name).
		Str("host", info.Host).
		Msg("Provisioning catlet")
	err = o.provisioner.Provision(ctx, info)
	return err
}

// waitForCommunicator polls until the catlet is running with a reachable
// address and the communicator reports it ready.
func (o *Orchestrator) waitForCommunicator(ctx context.Context, t *Target) (Summary, error) {
	waitCtx, cancel := context.WithTimeout(ctx, o.bootTimeout)
	defer cancel()

	ticker := time.NewTicker(o.tracker.interval)
	defer ticker.Stop()

	summary := Absent
	for {
		s, err := o.cache.Refresh(waitCtx, CatletRef{ID: t.ID})
		if err == nil {
			summary = s
			if info := o.connectionInfo(s, t); info != nil {
				ready, rerr := o.communicator.Ready(waitCtx, info)
				if ready {
					return summary, nil
				}
				if rerr != nil {
					log.Debug().Err(rerr).Str("host", info.Host).Msg("Catlet not reachable yet")
				}
			}
		} else if waitCtx.Err() == nil {
			return summary, err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return summary, fmt.Errorf("stopped waiting for catlet %s: %w", t.ID, ctx.Err())
			}
			return summary, NewTimeoutError(
				fmt.Sprintf("catlet did not become reachable within %s", o.bootTimeout),
				context.DeadlineExceeded).WithCatlet(t.ID)
		case <-ticker.C:
		}
	}
}

// track waits for an operation and records its outcome in metrics and the
// journal.
func (o *Orchestrator) track(ctx context.Context, action Action, step Step, t *Target, operationID string) (*OperationResult, error) {
	started := time.Now()
	o.metrics.OperationStarted()

	log.Debug().
		Str("catlet", t.Spec.Name).
		Str("operation_id", operationID).
		Str("step", string(step)).
		Msg("Waiting for operation")

	result, err := o.tracker.Wait(ctx, operationID, o.events)

	outcome, status, message := "completed", OperationCompleted, ""
	switch {
	case err == nil:
	case IsOperationFailed(err):
		outcome, status, message = "failed", OperationFailed, err.Error()
	case IsTimeout(err):
		outcome, status, message = "timeout", OperationRunning, err.Error()
	case ctx.Err() != nil:
		outcome, status, message = "cancelled", OperationRunning, err.Error()
	default:
		outcome, status, message = "error", OperationRunning, err.Error()
	}
	o.metrics.RecordOperation(string(step), outcome, time.Since(started))

	catletID := t.ID
	if result != nil && result.CatletID() != "" {
		catletID = result.CatletID()
	}
	o.recordJournal(ctx, JournalRecord{
		OperationID: operationID,
		CatletName:  t.Spec.Name,
		CatletID:    catletID,
		Action:      action,
		Step:        step,
		Status:      status,
		Message:     message,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	})

	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.CatletID == "" && t.ID != "" {
			e.CatletID = t.ID
		}
	}
	return result, err
}

func (o *Orchestrator) recordJournal(ctx context.Context, rec JournalRecord) {
	if o.journal == nil {
		return
	}
	if err := o.journal.RecordOperation(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn().Err(err).Str("operation_id", rec.OperationID).Msg("Failed to record operation")
	}
}

// currentSummary re-reads the catlet after a failed step, returning Absent
// when that is not possible.
func (o *Orchestrator) currentSummary(ctx context.Context, t *Target) Summary {
	if t.ID == "" || ctx.Err() != nil {
		return Absent
	}
	s, err := o.cache.Refresh(ctx, CatletRef{ID: t.ID})
	if err != nil {
		return Absent
	}
	return s
}

// connectionInfo builds connection details from a running catlet's first
// floating IPv4 address, or returns nil.
func (o *Orchestrator) connectionInfo(s Summary, t *Target) *ConnectionInfo {
	cs, ok := s.Catlet()
	if !ok || MapStatus(cs.Status) != StateRunning {
		return nil
	}

	var host, network string
	for _, n := range cs.Networks {
		if len(n.FloatingIPv4) > 0 && n.FloatingIPv4[0] != "" {
			host, network = n.FloatingIPv4[0], n.Name
			break
		}
	}
	if host == "" {
		return nil
	}

	info := &ConnectionInfo{
		Host:        host,
		Port:        t.Credentials.Port,
		Username:    t.Credentials.Username,
		Password:    t.Credentials.Password,
		PrivateKey:  t.Credentials.PrivateKey,
		CatletID:    cs.ID,
		NetworkName: network,
	}
	if info.Port == 0 {
		info.Port = DefaultSSHPort
	}
	if info.Username == "" {
		info.Username = t.Bootstrap.EffectiveUsername()
	}
	if info.Password == "" && t.Bootstrap.Enabled {
		info.Password = t.Bootstrap.EffectivePassword()
	}
	return info
}

// ReadState returns the current state of the referenced catlet. A known id
// is refreshed; otherwise the cached name lookup is used.
func (o *Orchestrator) ReadState(ctx context.Context, ref CatletRef) (Outcome, error) {
	var summary Summary
	if ref.ID != "" {
		s, err := o.cache.Refresh(ctx, ref)
		if err != nil {
			return Outcome{ID: ref.ID}, err
		}
		summary = s
	} else {
		summary = o.cache.Lookup(ctx, ref)
	}
	return Outcome{ID: summary.ID(), State: summary.State()}, nil
}

// ReadConnectionInfo returns how to reach the target's catlet, or nil when
// it is not running or has no floating IPv4 address yet.
func (o *Orchestrator) ReadConnectionInfo(ctx context.Context, t *Target) (*ConnectionInfo, error) {
	summary := o.cache.Lookup(ctx, t.Ref())
	return o.connectionInfo(summary, t), nil
}

// IsCreated reports whether the target has a local id that still resolves to
// an existing catlet. A stale id yields false, not an error.
func (o *Orchestrator) IsCreated(ctx context.Context, t *Target) (bool, error) {
	if t.ID == "" {
		return false, nil
	}
	summary, err := o.cache.Refresh(ctx, CatletRef{ID: t.ID})
	if err != nil {
		return false, err
	}
	return summary.State().IsCreated(), nil
}

// IsStopped reports whether the target's catlet exists and is stopped.
func (o *Orchestrator) IsStopped(ctx context.Context, t *Target) (bool, error) {
	return o.IsState(ctx, t, StateStopped)
}

// IsState reports whether the target's catlet is in state.
func (o *Orchestrator) IsState(ctx context.Context, t *Target, state ReconciledState) (bool, error) {
	if t.ID == "" {
		return state == StateAbsent, nil
	}
	summary, err := o.cache.Refresh(ctx, CatletRef{ID: t.ID})
	if err != nil {
		return false, err
	}
	return summary.State() == state, nil
}
