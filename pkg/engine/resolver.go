package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ResolvedFodder is a fodder item whose inline content has been serialized
// to text.
type ResolvedFodder struct {
	Name      string         `json:"name,omitempty"`
	Type      FodderType     `json:"type,omitempty"`
	Content   string         `json:"content,omitempty"`
	FileName  string         `json:"file_name,omitempty"`
	Source    string         `json:"source,omitempty"`
	Variables []VariableSpec `json:"variables,omitempty"`
	Remove    bool           `json:"remove,omitempty"`
}

// CreateRequest is the canonical catlet creation payload.
type CreateRequest struct {
	Spec   CatletSpec
	Fodder []ResolvedFodder
}

// Resolver merges a base spec with auto-generated, user and template fodder
// into a CreateRequest. It has no side effects.
type Resolver struct {
	validator *validator.Validate
}

// NewResolver creates a new resolver.
func NewResolver() *Resolver {
	return &Resolver{
		validator: validator.New(),
	}
}

// ResolveTarget resolves the creation request for a target, generating the
// bootstrap fodder from its bootstrap options.
func (r *Resolver) ResolveTarget(t *Target) (*CreateRequest, error) {
	auto, err := BootstrapFodder(t.Bootstrap)
	if err != nil {
		return nil, NewConfigurationError("failed to generate bootstrap fodder", err).WithCatlet(t.ID)
	}
	return r.Resolve(t.Spec, auto, t.UserFodder, t.TemplateFodder)
}

// Resolve merges the fodder lists and validates the result.
//
// Templates are deduplicated by source (first wins) and appended after the
// auto-generated items unless an item with the same source is already
// present. User items then replace the item with the same key in place, or
// are appended.
func (r *Resolver) Resolve(spec CatletSpec, auto, user, templates []FodderItem) (*CreateRequest, error) {
	if err := r.validateSpec(spec); err != nil {
		return nil, err
	}

	for _, list := range []struct {
		name  string
		items []FodderItem
	}{{"auto", auto}, {"user", user}, {"template", templates}} {
		for i, item := range list.items {
			if err := r.validateFodder(item); err != nil {
				return nil, NewConfigurationError(
					fmt.Sprintf("invalid %s fodder item #%d", list.name, i), err)
			}
		}
	}
	for i, t := range templates {
		if t.Source == "" {
			return nil, NewConfigurationError(
				fmt.Sprintf("invalid template fodder item #%d", i), errors.New("template fodder requires a source"))
		}
	}

	merged := make([]FodderItem, 0, len(auto)+len(templates)+len(user))
	merged = append(merged, auto...)

	seenSources := make(map[string]bool)
	for _, item := range merged {
		if item.Source != "" {
			seenSources[item.Source] = true
		}
	}
	for _, t := range templates {
		if seenSources[t.Source] {
			continue
		}
		seenSources[t.Source] = true
		merged = append(merged, t)
	}

	for _, u := range user {
		key := u.Key()
		replaced := false
		for i := range merged {
			if merged[i].Key() == key {
				merged[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, u)
		}
	}

	resolved := make([]ResolvedFodder, 0, len(merged))
	for _, item := range merged {
		rf, err := resolveFodder(item)
		if err != nil {
			return nil, NewConfigurationError(fmt.Sprintf("failed to serialize fodder %q", item.Key()), err)
		}
		resolved = append(resolved, rf)
	}

	out := spec
	out.Capabilities = normalizeCapabilities(spec)
	out.Drives = append([]DriveSpec(nil), spec.Drives...)
	out.Networks = append([]NetworkSpec(nil), spec.Networks...)
	out.Variables = append([]VariableSpec(nil), spec.Variables...)

	return &CreateRequest{Spec: out, Fodder: resolved}, nil
}

func (r *Resolver) validateSpec(spec CatletSpec) error {
	if err := r.validator.Struct(spec); err != nil {
		cfgErr := NewConfigurationError("invalid catlet specification", nil)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				cfgErr.WithDetail(fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			cfgErr.Err = err
		}
		return cfgErr
	}

	if m := spec.Memory; m != nil {
		if m.Maximum > 0 && m.Startup > m.Maximum {
			return NewConfigurationError("invalid catlet specification", nil).
				WithDetail(fmt.Sprintf("memory startup %d exceeds maximum %d", m.Startup, m.Maximum))
		}
		if m.Minimum > 0 && m.Startup > 0 && m.Minimum > m.Startup {
			return NewConfigurationError("invalid catlet specification", nil).
				WithDetail(fmt.Sprintf("memory minimum %d exceeds startup %d", m.Minimum, m.Startup))
		}
	}
	return nil
}

func (r *Resolver) validateFodder(item FodderItem) error {
	if err := r.validator.Struct(item); err != nil {
		return err
	}
	if item.HasInline() && item.Source != "" {
		return errors.New("content and source are mutually exclusive")
	}
	if len(item.Data) > 0 && item.Content != "" {
		return errors.New("data and content are mutually exclusive")
	}
	if item.Name == "" && item.Source == "" {
		return errors.New("name or source is required")
	}
	if item.Source != "" && !strings.HasPrefix(item.Source, "gene:") {
		return fmt.Errorf("source %q is not a gene reference", item.Source)
	}
	return nil
}

func resolveFodder(item FodderItem) (ResolvedFodder, error) {
	rf := ResolvedFodder{
		Name:      item.Name,
		Type:      item.Type,
		Content:   item.Content,
		FileName:  item.FileName,
		Source:    item.Source,
		Variables: append([]VariableSpec(nil), item.Variables...),
		Remove:    item.Remove,
	}
	if len(item.Data) > 0 {
		out, err := yaml.Marshal(item.Data)
		if err != nil {
			return ResolvedFodder{}, err
		}
		rf.Content = string(out)
	}
	if rf.Type == "" && item.Source == "" {
		rf.Type = FodderCloudConfig
	}
	return rf, nil
}

// normalizeCapabilities keeps the last declaration of each capability and
// enables dynamic memory when a memory maximum is set.
func normalizeCapabilities(spec CatletSpec) []Capability {
	var caps []Capability
	for _, c := range spec.Capabilities {
		caps = removeCapability(caps, c.Name)
		caps = append(caps, Capability{Name: c.Name, Details: append([]string(nil), c.Details...)})
	}
	if spec.Memory != nil && spec.Memory.Maximum > 0 {
		found := false
		for _, c := range caps {
			if c.Name == CapabilityDynamicMemory {
				found = true
				break
			}
		}
		if !found {
			caps = append(caps, Capability{Name: CapabilityDynamicMemory})
		}
	}
	return caps
}

func removeCapability(caps []Capability, name string) []Capability {
	out := caps[:0]
	for _, c := range caps {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}
