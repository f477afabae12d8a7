package compute

import (
	"sort"

	"github.com/openfroyo/catletctl/pkg/engine"
)

type listResponse[T any] struct {
	Value []T `json:"value"`
}

type wireProject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireFloatingPort struct {
	Name          string   `json:"name,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	IPv4Addresses []string `json:"ip_v4_addresses,omitempty"`
	IPv4Subnets   []string `json:"ip_v4_subnets,omitempty"`
}

type wireNetwork struct {
	Name          string            `json:"name"`
	IPv4Addresses []string          `json:"ip_v4_addresses,omitempty"`
	IPv4Subnets   []string          `json:"ip_v4_subnets,omitempty"`
	FloatingPort  *wireFloatingPort `json:"floating_port,omitempty"`
}

type wireCatlet struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Project  *wireProject  `json:"project,omitempty"`
	Networks []wireNetwork `json:"networks,omitempty"`
}

func (w wireCatlet) status() engine.CatletStatus {
	cs := engine.CatletStatus{
		ID:     w.ID,
		Name:   w.Name,
		Status: w.Status,
	}
	if w.Project != nil {
		cs.Project = w.Project.Name
	}
	for _, n := range w.Networks {
		ns := engine.NetworkStatus{
			Name:          n.Name,
			IPv4Addresses: n.IPv4Addresses,
			IPv4Subnets:   n.IPv4Subnets,
		}
		if n.FloatingPort != nil {
			ns.FloatingIPv4 = n.FloatingPort.IPv4Addresses
		}
		cs.Networks = append(cs.Networks, ns)
	}
	return cs
}

type wireTask struct {
	ID          string `json:"id"`
	ParentID    string `json:"parent_task_id,omitempty"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Progress    *int   `json:"progress"`
	Status      string `json:"status,omitempty"`
}

func tasks(in []wireTask) []engine.Task {
	if len(in) == 0 {
		return nil
	}
	out := make([]engine.Task, 0, len(in))
	for _, w := range in {
		t := engine.Task{
			ID:          w.ID,
			ParentID:    w.ParentID,
			Name:        w.Name,
			DisplayName: w.DisplayName,
			Progress:    engine.ProgressUnknown,
			Status:      w.Status,
		}
		if w.Progress != nil {
			t.Progress = *w.Progress
		}
		out = append(out, t)
	}
	return out
}

type wireOperation struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	StatusMessage string               `json:"status_message,omitempty"`
	Resources     []engine.ResourceRef `json:"resources,omitempty"`
	Tasks         []wireTask           `json:"tasks,omitempty"`
	LogEntries    []engine.LogEntry    `json:"log_entries,omitempty"`
}

func (w wireOperation) operation() *engine.Operation {
	return &engine.Operation{
		ID:            w.ID,
		Status:        engine.ParseOperationStatus(w.Status),
		StatusMessage: w.StatusMessage,
		Resources:     w.Resources,
		Tasks:         tasks(w.Tasks),
		LogEntries:    w.LogEntries,
	}
}

// catletConfig is the catlet configuration document sent on create and
// validate.
type catletConfig struct {
	engine.CatletSpec
	Fodder []engine.ResolvedFodder `json:"fodder,omitempty"`
}

type configRequest struct {
	Configuration catletConfig `json:"configuration"`
}

func newConfigRequest(req *engine.CreateRequest) configRequest {
	return configRequest{Configuration: catletConfig{CatletSpec: req.Spec, Fodder: req.Fodder}}
}

type stopRequest struct {
	Mode string `json:"mode"`
}

type newProjectRequest struct {
	Name string `json:"name"`
}

type networkConfigDocument struct {
	Configuration engine.NetworkConfig `json:"configuration"`
}

type wireValidationIssue struct {
	Member  string `json:"member"`
	Message string `json:"message"`
}

type validationResponse struct {
	IsValid bool                  `json:"is_valid"`
	Errors  []wireValidationIssue `json:"errors,omitempty"`
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
