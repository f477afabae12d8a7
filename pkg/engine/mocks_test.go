package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Mock implementations for testing

// fakeCompute is an in-memory compute service. Submitted operations finish
// after pendingPolls polls of GetOperation, applying their effect to the
// catlet table on completion.
type fakeCompute struct {
	mu sync.Mutex

	catlets map[string]CatletStatus
	ops     map[string]*fakeOperation
	calls   []string
	stops   []StopMode
	nextID  int

	pendingPolls int

	listErr     error
	listCalls   int
	getCalls    int
	validate    *ValidationResult
	validateErr error

	// failStep makes operations of the step fail with the message.
	failStep map[Step]string
	// hangStep makes operations of the step never finish.
	hangStep map[Step]bool
	// submitErr makes the submit call of the step fail.
	submitErr map[Step]error
	// omitCatletResource hides the created catlet from the create result.
	omitCatletResource bool
	// statusAfterStop overrides the status a completed stop leaves behind.
	statusAfterStop string
	// keepAfterDestroy leaves destroyed catlets in place.
	keepAfterDestroy bool
	// getGate holds GetCatlet for an id until the channel is closed.
	getGate map[string]chan struct{}
	// listGate holds ListCatlets until the channel is closed.
	listGate chan struct{}
	// gateWaits counts calls that found a gate.
	gateWaits int
}

type fakeOperation struct {
	id       string
	step     Step
	catletID string
	polls    int
	done     bool
	snapshot Operation
	effect   func()
}

func newFakeCompute() *fakeCompute {
	return &fakeCompute{
		catlets:   make(map[string]CatletStatus),
		ops:       make(map[string]*fakeOperation),
		failStep:  make(map[Step]string),
		hangStep:  make(map[Step]bool),
		submitErr: make(map[Step]error),
		getGate:   make(map[string]chan struct{}),
	}
}

// waitGate blocks on gate, when set, until it is closed or ctx ends.
func waitGate(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeCompute) addCatlet(id, name, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catlets[id] = CatletStatus{
		ID:     id,
		Name:   name,
		Status: status,
		Networks: []NetworkStatus{{
			Name:          "default",
			IPv4Addresses: []string{"10.0.0.5"},
			FloatingIPv4:  []string{"192.168.1.50"},
		}},
	}
}

func (f *fakeCompute) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.catlets[id]
	c.Status = status
	f.catlets[id] = c
}

func (f *fakeCompute) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// mutatingCalls returns only submit calls.
func (f *fakeCompute) mutatingCalls() []string {
	var out []string
	for _, c := range f.callLog() {
		switch c {
		case "create", "start", "stop", "destroy", "create-project":
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCompute) newOperation(step Step, catletID string, effect func()) string {
	f.nextID++
	id := fmt.Sprintf("op-%d", f.nextID)
	op := &fakeOperation{
		id:       id,
		step:     step,
		catletID: catletID,
		effect:   effect,
		snapshot: Operation{ID: id, Status: OperationRunning},
	}
	f.ops[id] = op
	return id
}

func (f *fakeCompute) SubmitCreate(ctx context.Context, req *CreateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "create")
	if err := f.submitErr[StepCreate]; err != nil {
		return "", err
	}
	f.nextID++
	catletID := fmt.Sprintf("catlet-%d", f.nextID)
	name := req.Spec.Name
	return f.newOperation(StepCreate, catletID, func() {
		f.catlets[catletID] = CatletStatus{ID: catletID, Name: name, Status: "Stopped"}
	}), nil
}

func (f *fakeCompute) SubmitStart(ctx context.Context, catletID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start")
	if err := f.submitErr[StepStart]; err != nil {
		return "", err
	}
	return f.newOperation(StepStart, catletID, func() {
		c := f.catlets[catletID]
		c.Status = "Running"
		if len(c.Networks) == 0 {
			c.Networks = []NetworkStatus{{Name: "default", FloatingIPv4: []string{"192.168.1.50"}}}
		}
		f.catlets[catletID] = c
	}), nil
}

func (f *fakeCompute) SubmitStop(ctx context.Context, catletID string, mode StopMode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop")
	f.stops = append(f.stops, mode)
	if err := f.submitErr[StepStop]; err != nil {
		return "", err
	}
	after := "Stopped"
	if f.statusAfterStop != "" {
		after = f.statusAfterStop
	}
	return f.newOperation(StepStop, catletID, func() {
		c := f.catlets[catletID]
		c.Status = after
		f.catlets[catletID] = c
	}), nil
}

func (f *fakeCompute) SubmitDestroy(ctx context.Context, catletID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "destroy")
	if err := f.submitErr[StepDestroy]; err != nil {
		return "", err
	}
	if _, ok := f.catlets[catletID]; !ok {
		return "", fmt.Errorf("catlet %s: %w", catletID, ErrNotFound)
	}
	return f.newOperation(StepDestroy, catletID, func() {
		if !f.keepAfterDestroy {
			delete(f.catlets, catletID)
		}
	}), nil
}

func (f *fakeCompute) GetCatlet(ctx context.Context, catletID string) (Summary, error) {
	f.mu.Lock()
	gate := f.getGate[catletID]
	if gate != nil {
		f.gateWaits++
	}
	f.mu.Unlock()
	if err := waitGate(ctx, gate); err != nil {
		return Absent, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "get")
	f.getCalls++
	if c, ok := f.catlets[catletID]; ok {
		return Found(c), nil
	}
	return Absent, nil
}

func (f *fakeCompute) ListCatlets(ctx context.Context) ([]CatletStatus, error) {
	f.mu.Lock()
	gate := f.listGate
	if gate != nil {
		f.gateWaits++
	}
	f.mu.Unlock()
	if err := waitGate(ctx, gate); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "list")
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]CatletStatus, 0, len(f.catlets))
	for _, c := range f.catlets {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCompute) GetOperation(ctx context.Context, operationID string, logsSince time.Time) (*Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	op, ok := f.ops[operationID]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", operationID, ErrNotFound)
	}
	if f.hangStep[op.step] && !op.done && op.catletID != "" {
		// Resources attach before the operation finishes.
		op.snapshot.Resources = []ResourceRef{{Type: ResourceCatlet, ID: op.catletID}}
	}
	if op.done || f.hangStep[op.step] {
		return op.snapshot.Clone(), nil
	}

	op.polls++
	if op.polls > f.pendingPolls {
		op.done = true
		if msg, fail := f.failStep[op.step]; fail {
			op.snapshot.Status = OperationFailed
			op.snapshot.StatusMessage = msg
		} else {
			op.snapshot.Status = OperationCompleted
			if op.effect != nil {
				op.effect()
			}
			if !(op.step == StepCreate && f.omitCatletResource) {
				op.snapshot.Resources = []ResourceRef{{Type: ResourceCatlet, ID: op.catletID}}
			}
		}
	}
	return op.snapshot.Clone(), nil
}

func (f *fakeCompute) ValidateSpec(ctx context.Context, req *CreateRequest) (*ValidationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "validate")
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	if f.validate != nil {
		return f.validate, nil
	}
	return &ValidationResult{Valid: true}, nil
}

// scriptedCompute replays a fixed sequence of operation snapshots.
type scriptedCompute struct {
	fakeCompute
	mu        sync.Mutex
	snapshots []*Operation
	polls     int
	since     []time.Time
	err       error
}

func (s *scriptedCompute) GetOperation(ctx context.Context, operationID string, logsSince time.Time) (*Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = append(s.since, logsSince)
	if s.err != nil {
		return nil, s.err
	}
	i := s.polls
	if i >= len(s.snapshots) {
		i = len(s.snapshots) - 1
	}
	s.polls++
	return s.snapshots[i].Clone(), nil
}

func (s *scriptedCompute) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

type fakeProjects struct {
	mu       sync.Mutex
	projects map[string]bool
	created  []string
	compute  *fakeCompute
}

func (p *fakeProjects) GetProject(ctx context.Context, name string) (*Project, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.projects[name] {
		return &Project{ID: "p-" + name, Name: name}, nil
	}
	return nil, fmt.Errorf("project %s: %w", name, ErrNotFound)
}

func (p *fakeProjects) SubmitCreateProject(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	p.created = append(p.created, name)
	p.mu.Unlock()

	p.compute.mu.Lock()
	defer p.compute.mu.Unlock()
	p.compute.calls = append(p.compute.calls, "create-project")
	return p.compute.newOperation("create-project", "", func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.projects == nil {
			p.projects = make(map[string]bool)
		}
		p.projects[name] = true
	}), nil
}

func (p *fakeProjects) ListProjects(ctx context.Context) ([]Project, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Project, 0, len(p.projects))
	for name := range p.projects {
		out = append(out, Project{ID: "p-" + name, Name: name})
	}
	return out, nil
}

func (p *fakeProjects) SubmitDeleteProject(ctx context.Context, projectID string) (string, error) {
	p.compute.mu.Lock()
	defer p.compute.mu.Unlock()
	p.compute.calls = append(p.compute.calls, "delete-project")
	return p.compute.newOperation("delete-project", "", func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for name := range p.projects {
			if "p-"+name == projectID {
				delete(p.projects, name)
			}
		}
	}), nil
}

// fakeNetworks stores network configurations per project id.
type fakeNetworks struct {
	mu      sync.Mutex
	configs map[string]NetworkConfig
	compute *fakeCompute
}

func (n *fakeNetworks) GetNetworkConfig(ctx context.Context, projectID string) (NetworkConfig, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.configs[projectID], nil
}

func (n *fakeNetworks) SubmitSetNetworkConfig(ctx context.Context, projectID string, cfg NetworkConfig) (string, error) {
	n.compute.mu.Lock()
	defer n.compute.mu.Unlock()
	n.compute.calls = append(n.compute.calls, "set-network")
	return n.compute.newOperation("set-network", "", func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.configs == nil {
			n.configs = make(map[string]NetworkConfig)
		}
		n.configs[projectID] = cfg
	}), nil
}

type recordingProvisioner struct {
	mu    sync.Mutex
	infos []*ConnectionInfo
	err   error
}

func (p *recordingProvisioner) Provision(ctx context.Context, info *ConnectionInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infos = append(p.infos, info)
	return p.err
}

type readyAfter struct {
	mu    sync.Mutex
	n     int
	calls int
}

func (r *readyAfter) Ready(ctx context.Context, info *ConnectionInfo) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls > r.n {
		return true, nil
	}
	return false, errors.New("connection refused")
}

type memoryJournal struct {
	mu      sync.Mutex
	records []JournalRecord
}

func (j *memoryJournal) RecordOperation(ctx context.Context, rec JournalRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}
