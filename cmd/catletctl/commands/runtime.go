package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/catletctl/pkg/compute"
	"github.com/openfroyo/catletctl/pkg/config"
	"github.com/openfroyo/catletctl/pkg/credentials"
	"github.com/openfroyo/catletctl/pkg/engine"
	"github.com/openfroyo/catletctl/pkg/policy"
	"github.com/openfroyo/catletctl/pkg/provision"
	"github.com/openfroyo/catletctl/pkg/stores"
	"github.com/openfroyo/catletctl/pkg/telemetry"
)

const syncTimeout = 30 * time.Second

// runtime wires the engine to the compute client and local state for one
// invocation. The status cache is shared by all machines; every machine
// gets its own tracker.
type runtime struct {
	app    *app
	file   *config.File
	store  *stores.SQLiteStore
	client *compute.Client
	cache  *engine.StatusCache
	policy *policy.Engine
	dial   provision.Dialer
}

// machine is one declared machine resolved against local state.
type machine struct {
	name   string
	config config.MachineConfig
	target *engine.Target
}

// result is the outcome of one machine.
type result struct {
	Machine string         `json:"machine"`
	Outcome engine.Outcome `json:"outcome"`
	Error   string         `json:"error,omitempty"`
	err     error
}

// reconcileOptions tweak a reconcile run.
type reconcileOptions struct {
	stopMode    engine.StopMode
	noProvision bool
}

func (a *app) loadFile(ctx context.Context) (*config.File, error) {
	return config.NewLoader().Load(ctx, a.settings.CatletsFile)
}

func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(a.settings.StatePath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: a.settings.StatePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (a *app) newClient() (*compute.Client, error) {
	s := a.settings
	return compute.NewClient(compute.Config{
		Endpoint:           s.Endpoint,
		TokenURL:           s.TokenURL,
		ClientID:           s.ClientID,
		ClientSecret:       s.ClientSecret,
		Scopes:             s.Scopes,
		InsecureSkipVerify: s.InsecureSkipVerify,
		Timeout:            s.RequestTimeout,
		Metrics:            a.telemetry.Metrics,
		Tracer:             a.telemetry.Tracer,
	})
}

// newPolicyEngine returns the admission policy engine, or nil when policies
// are disabled.
func (a *app) newPolicyEngine(ctx context.Context) (*policy.Engine, error) {
	if !a.settings.Policy.Enabled {
		return nil, nil
	}
	eng, err := policy.NewEngine(a.telemetry.Logger.Zerolog())
	if err != nil {
		return nil, err
	}
	if len(a.settings.Policy.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, a.settings.Policy.Paths); err != nil {
			return nil, engine.NewConfigurationError("invalid policies", err)
		}
	}
	return eng, nil
}

// newRuntime loads the catlets file, opens the state store and connects the
// compute client.
func (a *app) newRuntime(ctx context.Context) (*runtime, error) {
	file, err := a.loadFile(ctx)
	if err != nil {
		return nil, err
	}

	client, err := a.newClient()
	if err != nil {
		return nil, err
	}

	policies, err := a.newPolicyEngine(ctx)
	if err != nil {
		return nil, err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	return &runtime{
		app:    a,
		file:   file,
		store:  store,
		client: client,
		cache:  engine.NewStatusCache(client, engine.WithCacheMetrics(a.telemetry.Metrics)),
		policy: policies,
		dial:   provision.SSHDialer(a.settings.RequestTimeout),
	}, nil
}

func (r *runtime) newTracker() *engine.Tracker {
	return engine.NewTracker(r.client,
		engine.WithTimeout(r.app.settings.OperationTimeout),
		engine.WithPollInterval(r.app.settings.PollInterval),
		engine.WithTrackerMetrics(r.app.telemetry.Metrics),
		engine.WithTrackerTracer(r.app.telemetry.Tracer))
}

func (r *runtime) Close() error {
	return r.store.Close()
}

// machines resolves the named machines, or all of them, against local
// state. Key pairs are generated only when generateKeys is set.
func (r *runtime) machines(ctx context.Context, names []string, generateKeys bool) ([]*machine, error) {
	if len(names) == 0 {
		names = r.file.Names()
	}

	out := make([]*machine, 0, len(names))
	for _, name := range names {
		m, err := r.machine(ctx, name, generateKeys)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *runtime) machine(ctx context.Context, name string, generateKeys bool) (*machine, error) {
	cfg, err := r.file.Merged(name)
	if err != nil {
		return nil, engine.NewConfigurationError("unknown machine", err)
	}
	t, err := cfg.Target()
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("machine %s", name), err)
	}

	rec, err := r.store.GetMachine(ctx, name)
	switch {
	case errors.Is(err, stores.ErrNotFound):
		rec = nil
	case err != nil:
		return nil, err
	default:
		t.ID = rec.CatletID
	}

	switch {
	case cfg.GenerateKey() && generateKeys:
		kp, err := credentials.Ensure(ctx, r.store, name)
		if err != nil {
			return nil, err
		}
		t.Bootstrap.AuthorizedKeys = append(t.Bootstrap.AuthorizedKeys, kp.PublicKey)
		t.Credentials.PrivateKey = kp.PrivateKey
	case cfg.GenerateKey() && rec != nil && rec.PrivateKey != "":
		t.Credentials.PrivateKey = []byte(rec.PrivateKey)
	case cfg.SSH != nil && cfg.SSH.PrivateKeyPath != "":
		key, err := os.ReadFile(cfg.SSH.PrivateKeyPath)
		if err != nil {
			return nil, engine.NewConfigurationError("failed to read private key", err)
		}
		t.Credentials.PrivateKey = key
	}

	return &machine{name: name, config: cfg, target: t}, nil
}

// reachable reports whether catletctl can open SSH sessions to the machine.
func (m *machine) reachable() bool {
	if m.config.SSH != nil {
		return true
	}
	b := m.target.Bootstrap
	return b.Enabled && b.EnableRemoteAccess && b.OS == engine.GuestLinux
}

func (m *machine) scripts() []provision.Script {
	out := make([]provision.Script, 0, len(m.config.Provision))
	for _, s := range m.config.Provision {
		out = append(out, provision.Script{Name: s.Name, Inline: s.Inline, Path: s.Path, Sudo: s.Sudo})
	}
	return out
}

// orchestrator builds the orchestrator for one machine.
func (r *runtime) orchestrator(m *machine, runID string, events chan<- engine.ProgressEvent, opts reconcileOptions) *engine.Orchestrator {
	tel := r.app.telemetry
	options := []engine.Option{
		engine.WithTracker(r.newTracker()),
		engine.WithStatusCache(r.cache),
		engine.WithProjects(r.client, r.app.settings.AutoCreateProject),
		engine.WithJournal(r.store.Journal(runID)),
		engine.WithMetrics(tel.Metrics),
		engine.WithTracer(tel.Tracer),
	}
	if events != nil {
		options = append(options, engine.WithProgress(events))
	}
	if scripts := m.scripts(); len(scripts) > 0 && !opts.noProvision {
		options = append(options, engine.WithProvisioner(provision.NewScriptProvisioner(scripts, r.dial)))
	}
	if m.reachable() {
		options = append(options,
			engine.WithCommunicator(provision.NewSSHCommunicator(r.dial, r.app.settings.RequestTimeout), r.app.settings.BootTimeout),
			engine.WithPreDestroyHook(provision.SyncBeforeDestroy(r.dial, syncTimeout)))
	}
	return engine.NewOrchestrator(r.client, options...)
}

// reconcile runs action on the selected machines, at most settings.Parallel
// at a time. Every machine is attempted; the errors are joined.
func (r *runtime) reconcile(ctx context.Context, action engine.Action, names []string, opts reconcileOptions) ([]result, error) {
	machines, err := r.machines(ctx, names, action == engine.ActionUp)
	if err != nil {
		return nil, err
	}
	if action == engine.ActionUp {
		if err := r.admit(ctx, machines); err != nil {
			return nil, err
		}
	}

	run := &stores.Run{ID: uuid.NewString(), Action: string(action)}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	logger := r.app.telemetry.Logger.WithRunID(run.ID)
	logger.Info().
		Str("action", string(action)).
		Int("machines", len(machines)).
		Msg("Starting run")

	results := make([]result, len(machines))
	var g errgroup.Group
	g.SetLimit(r.app.settings.Parallel)

	for i, m := range machines {
		if opts.stopMode != "" {
			m.target.StopMode = opts.stopMode
		}

		g.Go(func() error {
			events := make(chan engine.ProgressEvent, 64)
			done := make(chan struct{})
			go func() {
				renderProgress(logger.WithCatlet(m.name), events)
				close(done)
			}()

			outcome, err := r.orchestrator(m, run.ID, events, opts).Reconcile(ctx, action, m.target)
			close(events)
			<-done

			r.persist(context.WithoutCancel(ctx), m, action, outcome)

			results[i] = result{Machine: m.name, Outcome: outcome, err: err}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, res := range results {
		if res.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Machine, res.err))
		}
	}
	runErr := errors.Join(errs...)

	status := stores.RunStatusCompleted
	var msg *string
	switch {
	case ctx.Err() != nil:
		status = stores.RunStatusCancelled
	case runErr != nil:
		status = stores.RunStatusFailed
	}
	if runErr != nil {
		text := runErr.Error()
		msg = &text
	}
	if err := r.store.FinishRun(context.WithoutCancel(ctx), run.ID, status, msg); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run result")
	}

	return results, runErr
}

// admit checks the resolved configuration of every machine against the
// admission policies. Warnings are logged; any blocking violation fails the
// whole run before a remote call is made.
func (r *runtime) admit(ctx context.Context, machines []*machine) error {
	if r.policy == nil {
		return nil
	}

	resolver := engine.NewResolver()
	var denied []string
	for _, m := range machines {
		req, err := resolver.ResolveTarget(m.target)
		if err != nil {
			return engine.NewConfigurationError(fmt.Sprintf("machine %s", m.name), err)
		}

		res, err := r.policy.Evaluate(ctx, policy.NewInput(m.name, engine.ActionUp, req))
		if err != nil {
			return err
		}
		for _, v := range res.Violations {
			if v.Severity.Blocking() {
				denied = append(denied, fmt.Sprintf("%s: %s", m.name, v.Message))
				continue
			}
			log.Warn().
				Str("machine", m.name).
				Str("policy", v.Policy).
				Msg(v.Message)
		}
	}

	if len(denied) > 0 {
		return engine.NewConfigurationError("denied by policy: "+strings.Join(denied, "; "), nil)
	}
	return nil
}

// persist records the catlet id of a machine. A destroyed machine is
// forgotten together with its key pair.
func (r *runtime) persist(ctx context.Context, m *machine, action engine.Action, outcome engine.Outcome) {
	if outcome.ID == "" {
		if action == engine.ActionDestroy && outcome.State == engine.StateAbsent {
			if err := r.store.DeleteMachine(ctx, m.name); err != nil {
				log.Warn().Err(err).Str("machine", m.name).Msg("Failed to forget machine")
			}
		}
		return
	}

	rec, err := r.store.GetMachine(ctx, m.name)
	if errors.Is(err, stores.ErrNotFound) {
		rec = &stores.Machine{Name: m.name}
	} else if err != nil {
		log.Warn().Err(err).Str("machine", m.name).Msg("Failed to read machine state")
		return
	}
	if rec.CatletID == outcome.ID && rec.Project == m.target.Spec.Project {
		return
	}

	rec.CatletID = outcome.ID
	rec.Project = m.target.Spec.Project
	if err := r.store.SaveMachine(ctx, rec); err != nil {
		log.Warn().Err(err).Str("machine", m.name).Msg("Failed to save machine state")
	}
}

// renderProgress logs progress events of one machine until events closes.
func renderProgress(logger *telemetry.Logger, events <-chan engine.ProgressEvent) {
	for ev := range events {
		switch ev.Kind {
		case engine.ProgressResourceAttached:
			logger.Debug().
				Str("operation_id", ev.OperationID).
				Str("resource_type", ev.Resource.Type).
				Str("resource_id", ev.Resource.ID).
				Msg("Attached resource to operation")
		case engine.ProgressTaskStarted:
			if ev.Task.ParentID == ev.OperationID {
				logger.Info().
					Str("operation_id", ev.OperationID).
					Msgf("Waiting for operation %s", ev.Task.Label())
			} else {
				logger.Debug().Str("task", ev.Task.Label()).Msg("Task started")
			}
		case engine.ProgressTaskUpdated:
			e := logger.Debug().Str("task", ev.Task.Label())
			if ev.Task.HasProgress() {
				e = e.Int("progress", ev.Task.Progress)
			}
			e.Str("status", ev.Task.Status).Msg("Task updated")
		case engine.ProgressLogLine:
			logger.Info().Msg(ev.Log.Message)
		}
	}
}
