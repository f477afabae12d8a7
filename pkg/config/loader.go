package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/load"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the catlets file looked up when no path is given.
const DefaultFileName = "catlets.yaml"

// Loader reads catlets files written in YAML or CUE and validates them
// against the built-in catlets schema.
type Loader struct {
	schemas *SchemaRegistry
}

// NewLoader creates a loader with its own schema registry.
func NewLoader() *Loader {
	return &Loader{schemas: NewSchemaRegistry()}
}

// Load reads and validates the catlets file at path. A directory is loaded
// as a CUE package. Schema violations are returned as ValidationErrors.
func (l *Loader) Load(ctx context.Context, path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat catlets file %s: %w", path, err)
	}

	var f *File
	switch {
	case info.IsDir():
		f, err = l.loadCUEDirectory(path)
	case strings.EqualFold(filepath.Ext(path), ".cue"):
		var content []byte
		content, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catlets file %s: %w", path, err)
		}
		f, err = l.parseCUE(path, content)
	default:
		var content []byte
		content, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catlets file %s: %w", path, err)
		}
		f, err = l.parseYAML(ctx, path, content)
	}
	if err != nil {
		return nil, err
	}

	f.Source = path
	log.Debug().
		Str("file", path).
		Int("machines", len(f.Machines)).
		Msg("Loaded catlets file")

	return f, nil
}

// LoadBytes parses YAML content. name is used in error locations.
func (l *Loader) LoadBytes(ctx context.Context, name string, content []byte) (*File, error) {
	f, err := l.parseYAML(ctx, name, content)
	if err != nil {
		return nil, err
	}
	f.Source = name
	return f, nil
}

// parseYAML validates YAML content against the schema and decodes it.
func (l *Loader) parseYAML(ctx context.Context, name string, content []byte) (*File, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, ValidationErrors{{File: name, Message: "file is empty"}}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(content, &root); err != nil {
		return nil, ValidationErrors{yamlError(name, err)}
	}

	var raw interface{}
	if err := root.Decode(&raw); err != nil {
		return nil, ValidationErrors{yamlError(name, err)}
	}

	if err := l.schemas.ValidateAgainstSchema(ctx, SchemaCatlets, raw); err != nil {
		errs, ok := err.(ValidationErrors)
		if !ok {
			return nil, err
		}
		for i := range errs {
			errs[i].File = name
			locate(&root, &errs[i])
		}
		return nil, errs
	}

	var f File
	if err := root.Decode(&f); err != nil {
		return nil, ValidationErrors{yamlError(name, err)}
	}

	if errs := checkMachines(&f); len(errs) > 0 {
		for i := range errs {
			errs[i].File = name
			locate(&root, &errs[i])
		}
		return nil, errs
	}

	return &f, nil
}

// parseCUE compiles a single CUE file and decodes it.
func (l *Loader) parseCUE(name string, content []byte) (*File, error) {
	val := l.schemas.ctx.CompileString(string(content), cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	return l.decodeCUE(val, name)
}

// loadCUEDirectory loads a directory as a CUE package.
func (l *Loader) loadCUEDirectory(dir string) (*File, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, ValidationErrors{{File: dir, Message: "no CUE files found"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, convertCUEErrors(inst.Err)
	}

	val := l.schemas.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}

	return l.decodeCUE(val, dir)
}

// decodeCUE validates a CUE value against the schema and decodes it through
// its JSON form so that the yaml field names apply.
func (l *Loader) decodeCUE(val cue.Value, name string) (*File, error) {
	schema, _ := l.schemas.GetSchema(SchemaCatlets)
	if err := l.schemas.validateValue(schema, val, name); err != nil {
		return nil, err
	}

	data, err := val.MarshalJSON()
	if err != nil {
		return nil, convertCUEErrors(err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}

	if errs := checkMachines(&f); len(errs) > 0 {
		for i := range errs {
			errs[i].File = name
		}
		return nil, errs
	}

	return &f, nil
}

// checkMachines reports rules the schema cannot express: unique names and
// a parent for every machine once defaults apply.
func checkMachines(f *File) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]int, len(f.Machines))

	for i, m := range f.Machines {
		if first, dup := seen[m.Name]; dup {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("machines.%d.name", i),
				Message: fmt.Sprintf("duplicate machine name %q (first declared at machines.%d)", m.Name, first),
			})
			continue
		}
		seen[m.Name] = i

		if m.Parent == "" && f.Defaults.Parent == "" {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("machines.%d", i),
				Message: fmt.Sprintf("machine %q has no parent and defaults set none", m.Name),
			})
		}
	}

	return errs
}

// yamlError converts a yaml.v3 error. Syntax errors carry "line N:".
func yamlError(name string, err error) ValidationError {
	ve := ValidationError{File: name, Message: err.Error()}

	msg := strings.TrimPrefix(err.Error(), "yaml: ")
	if rest, ok := strings.CutPrefix(msg, "line "); ok {
		if num, tail, found := strings.Cut(rest, ":"); found {
			if line, convErr := strconv.Atoi(num); convErr == nil {
				ve.Line = line
				ve.Message = strings.TrimSpace(tail)
			}
		}
	}
	return ve
}

// locate sets the line and column of ve from the YAML node at its path.
// The closest existing ancestor is used when the path ends in a missing
// field.
func locate(root *yaml.Node, ve *ValidationError) {
	if ve.Path == "" {
		return
	}

	node := root
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}

	for _, sel := range strings.Split(ve.Path, ".") {
		next := child(node, sel)
		if next == nil {
			break
		}
		node = next
	}

	ve.Line = node.Line
	ve.Column = node.Column
}

// child returns the mapping value or sequence item selected by sel.
func child(node *yaml.Node, sel string) *yaml.Node {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == sel {
				return node.Content[i+1]
			}
		}
	case yaml.SequenceNode:
		idx, err := strconv.Atoi(sel)
		if err == nil && idx >= 0 && idx < len(node.Content) {
			return node.Content[idx]
		}
	}
	return nil
}
