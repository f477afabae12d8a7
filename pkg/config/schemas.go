package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// Names of the built-in schemas.
const (
	SchemaCatlets = "catlets"
	SchemaMachine = "machine"
	SchemaFodder  = "fodder"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas. Each one is a
// definition of the shared catlets schema source.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	root := sr.ctx.CompileString(builtinCatletsSchema, cue.Filename("catlets.cue"))
	if err := root.Err(); err != nil {
		panic(fmt.Sprintf("built-in catlets schema does not compile: %v", err))
	}

	sr.schemas[SchemaCatlets] = root.LookupPath(cue.ParsePath("#Catlets"))
	sr.schemas[SchemaMachine] = root.LookupPath(cue.ParsePath("#Machine"))
	sr.schemas[SchemaFodder] = root.LookupPath(cue.ParsePath("#Fodder"))
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema. Violations
// are returned as ValidationErrors.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	return sr.validateValue(schema, dataVal, "")
}

// validateValue unifies val with schema and converts violations.
func (sr *SchemaRegistry) validateValue(schema, val cue.Value, file string) error {
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		errs := convertCUEErrors(err)
		for i := range errs {
			if errs[i].File == "" || errs[i].File == "catlets.cue" {
				errs[i].File = file
				errs[i].Line, errs[i].Column = 0, 0
			}
		}
		return errs
	}
	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path: dataPath(e.Path()),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		format, args := e.Msg()
		ve.Message = fmt.Sprintf(format, args...)
		out = append(out, ve)
	}

	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// dataPath joins a CUE error path, dropping the leading definition
// selectors (#Catlets) so the path addresses the validated document.
func dataPath(sels []string) string {
	for len(sels) > 0 && strings.HasPrefix(sels[0], "#") {
		sels = sels[1:]
	}
	return strings.Join(sels, ".")
}

// Built-in schema definitions

const builtinCatletsSchema = `
// Catlets file: shared defaults and the declared machines.
#Catlets: {
	version?: string

	defaults?: #MachineFields

	// At least one machine must be declared.
	machines: [#Machine, ...#Machine]
}

#Machine: #MachineFields & {
	name: string & =~"^[a-zA-Z0-9][a-zA-Z0-9-]{0,62}$"
}

#MachineFields: {
	name?:        string
	project?:     string & =~"^[a-z0-9][a-z0-9-]*$"
	parent?:      string & =~"^[a-z0-9][a-z0-9-]*/[a-z0-9][a-z0-9.-]*(/[a-z0-9][a-z0-9.-]*)?$"
	hostname?:    string
	location?:    string
	environment?: string
	store?:       string

	cpu?: int & >=1
	memory?: {
		startup?: int & >=0
		minimum?: int & >=0
		maximum?: int & >=0
	}

	capabilities?: [...{
		name:     string
		details?: [...string]
	}]
	drives?: [...{
		name:    string
		size?:   int & >=0
		type?:   "VHD" | "SharedVHD" | "DVD" | "VHDSet"
		source?: string
	}]
	networks?: [...{
		name:          string
		adapter_name?: string
		subnet?:       string
		ip_pool?:      string
	}]
	variables?: [...#Variable]

	fodder?: [...#Fodder]
	genes?: [...#GeneRef]

	bootstrap?: {
		enabled?:         bool
		os?:              "linux" | "windows"
		username?:        string
		password?:        string
		remote_access?:   bool
		generate_key?:    bool
		authorized_keys?: [...string]
	}
	ssh?: {
		username?:         string
		password?:         string
		port?:             int & >=1 & <=65535
		private_key_path?: string
	}

	stop_mode?: "graceful" | "hard" | "kill"

	provision?: [...{
		name?:   string
		inline?: string
		path?:   string
		sudo?:   bool
	}]
}

#GeneRef: string & =~"^gene:[a-z0-9][a-z0-9-]*/[a-z0-9][a-z0-9.-]*(/[a-z0-9.-]+)?:[a-zA-Z0-9._-]+$"

#Variable: {
	name:    string
	value?:  string
	secret?: bool
}

#Fodder: {
	name?:      string
	type?:      "cloud-config" | "shellscript" | "cloud-boothook" | "cloud-config-archive"
	data?:      {...}
	content?:   string
	file_name?: string
	source?:    #GeneRef
	variables?: [...#Variable]
	remove?:    bool
}
`
