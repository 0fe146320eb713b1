// Package manifest loads the CUE-authored runtime configuration: the
// space list, which provider backs each space, and the proxy limits
// (§9 Open Question "configurable via the manifest"): the recursion
// limit, which the sync command passes to the query proxy, and an
// array-size limit, which is parsed but not enforced anywhere. Grounded on the teacher's cli.LoadSpecs, which loads
// a directory of .cue files with cue/load + cuecontext and walks the
// built value field-by-field; reshaped here from concept/sync specs to
// a single top-level "space" struct plus an optional "limits" struct.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/weftrun/weave/internal/value"
)

// ProviderKind discriminates what backs a space.
type ProviderKind string

const (
	// ProviderSQLite backs a space with a local reference provider file.
	ProviderSQLite ProviderKind = "sqlite"
	// ProviderNone marks a space as ephemeral-only: documents in it are
	// never synced to durable storage (§3 invariant 4).
	ProviderNone ProviderKind = "none"
)

// SpaceConfig is one entry of the manifest's "space" struct.
type SpaceConfig struct {
	Name     string
	Provider ProviderKind
	Path     string      // sqlite file path, relevant only when Provider == ProviderSQLite
	Schema   value.Value // optional JSON Schema (C11) governing the space's documents, nil if absent
}

// Limits carries the proxy's configurable caps (§9 Open Question 3).
type Limits struct {
	RecursionLimit    int
	MaxProxyArraySize int
}

// DefaultLimits mirrors the hardcoded defaults used when a manifest
// omits "limits" entirely.
func DefaultLimits() Limits {
	return Limits{RecursionLimit: 100, MaxProxyArraySize: 0}
}

// Manifest is the fully loaded runtime configuration.
type Manifest struct {
	Spaces []SpaceConfig
	Limits Limits
}

// SpaceByName looks up a configured space, reporting false if dir does
// not name one explicitly (callers typically then fall back to
// ProviderNone for unconfigured spaces rather than failing outright).
func (m *Manifest) SpaceByName(name string) (SpaceConfig, bool) {
	for _, s := range m.Spaces {
		if s.Name == name {
			return s, true
		}
	}
	return SpaceConfig{}, false
}

// SchemaForSpace returns the schema (C11) configured for name, or false
// if the space is unconfigured or declares no schema.
func (m *Manifest) SchemaForSpace(name string) (value.Value, bool) {
	sc, ok := m.SpaceByName(name)
	if !ok || sc.Schema == nil {
		return nil, false
	}
	return sc.Schema, true
}

// LoadError mirrors cli.LoadError: a manifest parse failure with an
// optional CUE source position.
type LoadError struct {
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Load reads every .cue file in dir and compiles the manifest. dir must
// contain a top-level "space: {...}" struct (one field per space, keyed
// by space name) and may optionally contain a "limits: {...}" struct.
func Load(dir string) (*Manifest, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &LoadError{Message: fmt.Sprintf("manifest directory not found: %s", dir)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, &LoadError{Message: "no CUE instances loaded"}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Message: fmt.Sprintf("loading manifest: %v", inst.Err)}
	}

	root := ctx.BuildInstance(inst)
	if err := root.Err(); err != nil {
		return nil, &LoadError{Message: fmt.Sprintf("building manifest value: %v", err)}
	}

	return compile(root)
}

func compile(root cue.Value) (*Manifest, error) {
	m := &Manifest{Limits: DefaultLimits()}

	spaceVal := root.LookupPath(cue.ParsePath("space"))
	if spaceVal.Exists() {
		iter, err := spaceVal.Fields()
		if err != nil {
			return nil, &LoadError{Message: fmt.Sprintf("iterating space: %v", err), Pos: spaceVal.Pos()}
		}
		for iter.Next() {
			sc, err := compileSpace(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			m.Spaces = append(m.Spaces, sc)
		}
	}

	limitsVal := root.LookupPath(cue.ParsePath("limits"))
	if limitsVal.Exists() {
		if v := limitsVal.LookupPath(cue.ParsePath("recursion_limit")); v.Exists() {
			n, err := v.Int64()
			if err != nil {
				return nil, &LoadError{Message: fmt.Sprintf("limits.recursion_limit: %v", err), Pos: v.Pos()}
			}
			m.Limits.RecursionLimit = int(n)
		}
		if v := limitsVal.LookupPath(cue.ParsePath("max_proxy_array_size")); v.Exists() {
			n, err := v.Int64()
			if err != nil {
				return nil, &LoadError{Message: fmt.Sprintf("limits.max_proxy_array_size: %v", err), Pos: v.Pos()}
			}
			m.Limits.MaxProxyArraySize = int(n)
		}
	}

	return m, nil
}

func compileSpace(name string, v cue.Value) (SpaceConfig, error) {
	sc := SpaceConfig{Name: name, Provider: ProviderNone}

	providerVal := v.LookupPath(cue.ParsePath("provider"))
	if providerVal.Exists() {
		kind, err := providerVal.String()
		if err != nil {
			return SpaceConfig{}, &LoadError{Message: fmt.Sprintf("space.%s.provider: %v", name, err), Pos: providerVal.Pos()}
		}
		sc.Provider = ProviderKind(kind)
	}

	switch sc.Provider {
	case ProviderSQLite:
		pathVal := v.LookupPath(cue.ParsePath("path"))
		if !pathVal.Exists() {
			return SpaceConfig{}, &LoadError{Message: fmt.Sprintf("space.%s: sqlite provider requires a path", name), Pos: v.Pos()}
		}
		path, err := pathVal.String()
		if err != nil {
			return SpaceConfig{}, &LoadError{Message: fmt.Sprintf("space.%s.path: %v", name, err), Pos: pathVal.Pos()}
		}
		sc.Path = path
	case ProviderNone:
		// no further fields required
	default:
		return SpaceConfig{}, &LoadError{Message: fmt.Sprintf("space.%s: unknown provider %q", name, sc.Provider), Pos: providerVal.Pos()}
	}

	schemaVal := v.LookupPath(cue.ParsePath("schema"))
	if schemaVal.Exists() {
		raw, err := schemaVal.MarshalJSON()
		if err != nil {
			return SpaceConfig{}, &LoadError{Message: fmt.Sprintf("space.%s.schema: %v", name, err), Pos: schemaVal.Pos()}
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return SpaceConfig{}, &LoadError{Message: fmt.Sprintf("space.%s.schema: %v", name, err), Pos: schemaVal.Pos()}
		}
		schemaValue, err := value.FromAny(decoded)
		if err != nil {
			return SpaceConfig{}, &LoadError{Message: fmt.Sprintf("space.%s.schema: %v", name, err), Pos: schemaVal.Pos()}
		}
		sc.Schema = schemaValue
	}

	return sc, nil
}
