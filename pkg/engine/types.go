package engine

import (
	"time"
)

// FodderType is the cloud-init content type of a fodder item.
type FodderType string

const (
	FodderCloudConfig        FodderType = "cloud-config"
	FodderShellScript        FodderType = "shellscript"
	FodderCloudBoothook      FodderType = "cloud-boothook"
	FodderCloudConfigArchive FodderType = "cloud-config-archive"
)

// DriveType is the kind of a catlet drive.
type DriveType string

const (
	DriveVHD       DriveType = "VHD"
	DriveSharedVHD DriveType = "SharedVHD"
	DriveDVD       DriveType = "DVD"
	DriveVHDSet    DriveType = "VHDSet"
)

// Well-known capability names.
const (
	CapabilitySecureBoot           = "secure_boot"
	CapabilityNestedVirtualization = "nested_virtualization"
	CapabilityDynamicMemory        = "dynamic_memory"
)

// CatletSpec is the declarative description of a catlet.
type CatletSpec struct {
	Name         string         `json:"name" yaml:"name" validate:"required,max=64"`
	Project      string         `json:"project,omitempty" yaml:"project,omitempty"`
	Parent       string         `json:"parent" yaml:"parent" validate:"required"`
	Hostname     string         `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Location     string         `json:"location,omitempty" yaml:"location,omitempty"`
	Environment  string         `json:"environment,omitempty" yaml:"environment,omitempty"`
	Store        string         `json:"store,omitempty" yaml:"store,omitempty"`
	CPU          *CPUSpec       `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory       *MemorySpec    `json:"memory,omitempty" yaml:"memory,omitempty"`
	Capabilities []Capability   `json:"capabilities,omitempty" yaml:"capabilities,omitempty" validate:"dive"`
	Drives       []DriveSpec    `json:"drives,omitempty" yaml:"drives,omitempty" validate:"dive"`
	Networks     []NetworkSpec  `json:"networks,omitempty" yaml:"networks,omitempty" validate:"dive"`
	Variables    []VariableSpec `json:"variables,omitempty" yaml:"variables,omitempty" validate:"dive"`
}

// CPUSpec sets the virtual processor count.
type CPUSpec struct {
	Count int `json:"count" yaml:"count" validate:"gte=1"`
}

// MemorySpec sets memory sizes in MiB.
type MemorySpec struct {
	Startup int `json:"startup,omitempty" yaml:"startup,omitempty" validate:"gte=0"`
	Minimum int `json:"minimum,omitempty" yaml:"minimum,omitempty" validate:"gte=0"`
	Maximum int `json:"maximum,omitempty" yaml:"maximum,omitempty" validate:"gte=0"`
}

// Capability enables a catlet feature.
type Capability struct {
	Name    string   `json:"name" yaml:"name" validate:"required"`
	Details []string `json:"details,omitempty" yaml:"details,omitempty"`
}

// DriveSpec describes an attached drive.
type DriveSpec struct {
	Name   string    `json:"name" yaml:"name" validate:"required"`
	Size   int       `json:"size,omitempty" yaml:"size,omitempty" validate:"gte=0"`
	Type   DriveType `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=VHD SharedVHD DVD VHDSet"`
	Source string    `json:"source,omitempty" yaml:"source,omitempty"`
}

// NetworkSpec describes a network attachment.
type NetworkSpec struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	AdapterName string `json:"adapter_name,omitempty" yaml:"adapter_name,omitempty"`
	Subnet      string `json:"subnet,omitempty" yaml:"subnet,omitempty"`
	IPPool      string `json:"ip_pool,omitempty" yaml:"ip_pool,omitempty"`
}

// VariableSpec is a catlet variable passed to genes.
type VariableSpec struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Value  string `json:"value,omitempty" yaml:"value,omitempty"`
	Secret bool   `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// FodderItem is one unit of first-boot bootstrap data. Inline content is
// either structured (Data) or opaque (Content). Source references a gene and
// is mutually exclusive with inline content.
type FodderItem struct {
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Type      FodderType     `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=cloud-config shellscript cloud-boothook cloud-config-archive"`
	Data      map[string]any `json:"-" yaml:"data,omitempty"`
	Content   string         `json:"content,omitempty" yaml:"content,omitempty"`
	FileName  string         `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	Source    string         `json:"source,omitempty" yaml:"source,omitempty"`
	Variables []VariableSpec `json:"variables,omitempty" yaml:"variables,omitempty"`
	Remove    bool           `json:"remove,omitempty" yaml:"remove,omitempty"`
}

// Key returns the identity used when merging fodder lists:
// "source:name" when both are set, otherwise whichever is set.
func (f FodderItem) Key() string {
	switch {
	case f.Source != "" && f.Name != "":
		return f.Source + ":" + f.Name
	case f.Source != "":
		return f.Source
	default:
		return f.Name
	}
}

// HasInline returns true if the item carries inline content.
func (f FodderItem) HasInline() bool {
	return len(f.Data) > 0 || f.Content != ""
}

// ResourceRef references a remote resource attached to an operation.
type ResourceRef struct {
	Type string `json:"resource_type"`
	ID   string `json:"resource_id"`
}

// Resource types attached to operations.
const (
	ResourceCatlet  = "Catlet"
	ResourceDisk    = "VirtualDisk"
	ResourceNet     = "VirtualNetwork"
	ResourceProject = "Project"
)

// ProgressUnknown marks a task that reports no progress.
const ProgressUnknown = -1

// Task is a sub-step of a remote operation.
type Task struct {
	ID          string `json:"id"`
	ParentID    string `json:"parent_task_id,omitempty"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	// Progress is 0..100, or ProgressUnknown.
	Progress int    `json:"progress"`
	Status   string `json:"status,omitempty"`
}

// HasProgress reports whether the task reports a percentage.
func (t Task) HasProgress() bool {
	return t.Progress >= 0
}

// Label returns the display name, falling back to the name.
func (t Task) Label() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.Name
}

// LogEntry is a log line reported by a remote operation.
type LogEntry struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Operation is a snapshot of a remote asynchronous operation.
type Operation struct {
	ID            string          `json:"id"`
	Status        OperationStatus `json:"status"`
	StatusMessage string          `json:"status_message,omitempty"`
	Resources     []ResourceRef   `json:"resources,omitempty"`
	Tasks         []Task          `json:"tasks,omitempty"`
	LogEntries    []LogEntry      `json:"log_entries,omitempty"`
}

// Clone returns a deep copy of the operation.
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	c := *o
	c.Resources = append([]ResourceRef(nil), o.Resources...)
	c.Tasks = append([]Task(nil), o.Tasks...)
	c.LogEntries = append([]LogEntry(nil), o.LogEntries...)
	return &c
}

// ResourceIDs returns the ids of attached resources of the given type.
func (o *Operation) ResourceIDs(resourceType string) []string {
	if o == nil {
		return nil
	}
	var ids []string
	for _, r := range o.Resources {
		if r.Type == resourceType {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// CatletID returns the first attached catlet id, or "".
func (o *Operation) CatletID() string {
	if ids := o.ResourceIDs(ResourceCatlet); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// OperationResult is the immutable terminal snapshot of a completed operation.
type OperationResult struct {
	op *Operation
}

// NewOperationResult wraps a copy of a terminal operation snapshot.
func NewOperationResult(op *Operation) *OperationResult {
	return &OperationResult{op: op.Clone()}
}

// ID returns the operation id.
func (r *OperationResult) ID() string { return r.op.ID }

// Status returns the terminal status.
func (r *OperationResult) Status() OperationStatus { return r.op.Status }

// CatletID returns the id of the catlet attached to the operation, or "".
func (r *OperationResult) CatletID() string { return r.op.CatletID() }

// ProjectID returns the id of the project attached to the operation, or "".
func (r *OperationResult) ProjectID() string {
	if ids := r.op.ResourceIDs(ResourceProject); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// Resources returns the ids of attached resources of the given type.
func (r *OperationResult) Resources(resourceType string) []string {
	return r.op.ResourceIDs(resourceType)
}

// Snapshot returns a copy of the terminal operation.
func (r *OperationResult) Snapshot() *Operation { return r.op.Clone() }

// NetworkStatus is a network attachment reported for a catlet.
type NetworkStatus struct {
	Name          string   `json:"name"`
	IPv4Addresses []string `json:"ip_v4_addresses,omitempty"`
	FloatingIPv4  []string `json:"floating_ip_v4_addresses,omitempty"`
	IPv4Subnets   []string `json:"ip_v4_subnets,omitempty"`
}

// CatletStatus is a remote catlet summary.
type CatletStatus struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Project  string          `json:"project,omitempty"`
	Status   string          `json:"status"`
	Networks []NetworkStatus `json:"networks,omitempty"`
}

// FloatingIPv4 returns the first floating IPv4 address of the first network
// that has one.
func (c CatletStatus) FloatingIPv4() string {
	for _, n := range c.Networks {
		if len(n.FloatingIPv4) > 0 && n.FloatingIPv4[0] != "" {
			return n.FloatingIPv4[0]
		}
	}
	return ""
}

// Summary is the result of looking up a catlet: either a found catlet or the
// Absent sentinel.
type Summary struct {
	catlet *CatletStatus
}

// Absent is the summary of a catlet that does not exist.
var Absent = Summary{}

// Found returns a summary for an existing catlet.
func Found(c CatletStatus) Summary {
	return Summary{catlet: &c}
}

// IsAbsent returns true for the Absent sentinel.
func (s Summary) IsAbsent() bool {
	return s.catlet == nil
}

// Catlet returns the catlet status and true, or false when absent.
func (s Summary) Catlet() (CatletStatus, bool) {
	if s.catlet == nil {
		return CatletStatus{}, false
	}
	return *s.catlet, true
}

// State returns the reconciled state of the summary.
func (s Summary) State() ReconciledState {
	if s.catlet == nil {
		return StateAbsent
	}
	return MapStatus(s.catlet.Status)
}

// ID returns the catlet id, or "" when absent.
func (s Summary) ID() string {
	if s.catlet == nil {
		return ""
	}
	return s.catlet.ID
}

// CatletRef identifies a catlet by id, by name, or both.
type CatletRef struct {
	ID   string
	Name string
}

// Credentials are used to reach a catlet once it is running.
type Credentials struct {
	Username   string
	Password   string
	PrivateKey []byte
	Port       int
}

// Target is the orchestrator's view of one managed catlet. ID is the locally
// persisted catlet id; the orchestrator updates it as actions progress.
type Target struct {
	ID             string
	Spec           CatletSpec
	UserFodder     []FodderItem
	TemplateFodder []FodderItem
	Bootstrap      BootstrapOptions
	Credentials    Credentials
	StopMode       StopMode
}

// Ref returns the target's catlet reference.
func (t *Target) Ref() CatletRef {
	return CatletRef{ID: t.ID, Name: t.Spec.Name}
}

// Outcome reports the result of a reconcile.
type Outcome struct {
	ID      string          `json:"id,omitempty"`
	State   ReconciledState `json:"state"`
	Steps   []Step          `json:"steps,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ConnectionInfo describes how to reach a running catlet.
type ConnectionInfo struct {
	Host        string
	Port        int
	Username    string
	Password    string
	PrivateKey  []byte
	CatletID    string
	NetworkName string
}

// ProgressKind is the kind of a progress event.
type ProgressKind string

const (
	ProgressResourceAttached ProgressKind = "resource-attached"
	ProgressTaskStarted      ProgressKind = "task-started"
	ProgressTaskUpdated      ProgressKind = "task-updated"
	ProgressLogLine          ProgressKind = "log-line"
)

// ProgressEvent is emitted while an operation is tracked.
type ProgressEvent struct {
	Kind        ProgressKind
	OperationID string
	Resource    *ResourceRef
	Task        *Task
	Log         *LogEntry
}
