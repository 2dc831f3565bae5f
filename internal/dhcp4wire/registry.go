package dhcp4wire

import (
	"fmt"
	"regexp"

	"github.com/AdguardTeam/golibs/errors"
)

// Sentinel registry errors.
const (
	// ErrDuplicateDefinition means a definition was added to a space that
	// already holds one for the same code or name.
	ErrDuplicateDefinition errors.Error = "duplicate option definition"

	// ErrInvalidDefinition means a definition failed the structural
	// validation rules from spec.md section 4.2.
	ErrInvalidDefinition errors.Error = "invalid option definition"
)

// nameRe matches valid option and field names: spec.md section 3,
// "[A-Za-z0-9_-]+, not beginning/ending in - or _".
var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*[A-Za-z0-9]$|^[A-Za-z0-9]$`)

// FieldDef describes one field of a record-typed [Definition].
type FieldDef struct {
	Name string
	Type ScalarType
}

// Definition is a typed descriptor for an option code within a [Space]:
// the Go-native replacement for the original OptionDefinition class, which
// built a per-code packer/unpacker pair reflectively from similar
// metadata.
type Definition struct {
	Name              string
	EncapsulatedSpace string
	RecordFields      []FieldDef
	Code              uint8
	Type              ScalarType
	Array             bool
}

// Validate checks d against the structural rules in spec.md section 3.
func (d Definition) Validate() (err error) {
	if !nameRe.MatchString(d.Name) {
		return fmt.Errorf("%w: name %q", ErrInvalidDefinition, d.Name)
	}

	if d.Array && (d.Type == TypeString || d.Type == TypeBinary || d.Type == TypeEmpty) {
		return fmt.Errorf("%w: array incompatible with %s", ErrInvalidDefinition, d.Type)
	}

	if d.Type == TypeRecord {
		if len(d.RecordFields) < 2 {
			return fmt.Errorf("%w: record %q needs at least 2 fields", ErrInvalidDefinition, d.Name)
		}

		for i, f := range d.RecordFields {
			if f.Type == TypeEmpty {
				return fmt.Errorf("%w: record %q field %q may not be empty-typed",
					ErrInvalidDefinition, d.Name, f.Name)
			}

			isTail := i == len(d.RecordFields)-1
			if (f.Type == TypeString || f.Type == TypeBinary) && !isTail {
				return fmt.Errorf("%w: record %q field %q (%s) may only appear last",
					ErrInvalidDefinition, d.Name, f.Name, f.Type)
			}
		}
	}

	return nil
}

// Space is a named namespace of option [Definition]s, keyed both by code
// and by name.  It replaces the original implementation's
// OptionDefinitionContainer, which kept parallel std::multi_index tables
// for the same lookup.
type Space struct {
	byCode map[uint8]Definition
	byName map[string]Definition
	Name   string
}

// NewSpace returns an empty, named Space.
func NewSpace(name string) (s *Space) {
	return &Space{
		Name:   name,
		byCode: map[uint8]Definition{},
		byName: map[string]Definition{},
	}
}

// Add inserts def into s.  It fails with [ErrInvalidDefinition] if def
// doesn't validate, or [ErrDuplicateDefinition] if the code or name is
// already taken.
func (s *Space) Add(def Definition) (err error) {
	if err = def.Validate(); err != nil {
		return err
	}

	if _, ok := s.byCode[def.Code]; ok {
		return fmt.Errorf("%w: space %q code %d", ErrDuplicateDefinition, s.Name, def.Code)
	}
	if _, ok := s.byName[def.Name]; ok {
		return fmt.Errorf("%w: space %q name %q", ErrDuplicateDefinition, s.Name, def.Name)
	}

	s.byCode[def.Code] = def
	s.byName[def.Name] = def

	return nil
}

// ByCode looks up a definition by its numeric code.
func (s *Space) ByCode(code uint8) (def Definition, ok bool) {
	def, ok = s.byCode[code]
	return def, ok
}

// ByName looks up a definition by its symbolic name.
func (s *Space) ByName(name string) (def Definition, ok bool) {
	def, ok = s.byName[name]
	return def, ok
}

// All returns every definition in s, in no particular order.
func (s *Space) All() (defs []Definition) {
	defs = make([]Definition, 0, len(s.byCode))
	for _, d := range s.byCode {
		defs = append(defs, d)
	}
	return defs
}

// Built-in and reserved option space names, spec.md section 3.
const (
	SpaceDHCP4        = "dhcp4"
	SpaceAgentOptions = "dhcp-agent-options-space"
	SpaceVendorEncap  = "vendor-encapsulated-options-space"
	vendorSpacePrefix = "vendor-"
)

// VendorSpaceName returns the per-enterprise vendor space name for the
// given enterprise number.
func VendorSpaceName(enterpriseID uint32) (name string) {
	return fmt.Sprintf("%s%d", vendorSpacePrefix, enterpriseID)
}

// Registry holds every known [Space], keyed by name.  It is built once at
// configuration time from the built-in table plus user-supplied
// definitions, is read-only at steady state, and is shared by reference
// across all worker goroutines -- replacing the original implementation's
// process-wide v4factories_/runtime_options_ maps, which this module
// instead scopes per loaded configuration so a reconfiguration can swap
// the whole registry atomically.
type Registry struct {
	spaces map[string]*Space
}

// NewRegistry returns an empty Registry.
func NewRegistry() (r *Registry) {
	return &Registry{spaces: map[string]*Space{}}
}

// Space returns the named space, creating it if it doesn't yet exist.
func (r *Registry) Space(name string) (s *Space) {
	s, ok := r.spaces[name]
	if !ok {
		s = NewSpace(name)
		r.spaces[name] = s
	}
	return s
}

// SpaceNames returns the names of every space present in r.
func (r *Registry) SpaceNames() (names []string) {
	names = make([]string, 0, len(r.spaces))
	for n := range r.spaces {
		names = append(names, n)
	}
	return names
}

// Lookup returns the definition for code within the named space.  ok is
// false both when the space is unknown and when the space holds no
// definition for code; callers that need to distinguish those cases
// should check Space's presence separately.
func (r *Registry) Lookup(space string, code uint8) (def Definition, ok bool) {
	s, ok := r.spaces[space]
	if !ok {
		return Definition{}, false
	}
	return s.ByCode(code)
}

// NewStandardRegistry returns a Registry pre-populated with the built-in
// dhcp4 and dhcp-agent-options-space definitions from
// [StandardDefinitions] and [AgentOptionDefinitions]; it adds no
// vendor-encapsulated-options-space definitions.  It
// panics on a definition conflict, since the built-in table is a repo
// invariant, not user input.
func NewStandardRegistry() (r *Registry) {
	r = NewRegistry()

	dhcp4 := r.Space(SpaceDHCP4)
	for _, d := range StandardDefinitions() {
		if err := dhcp4.Add(d); err != nil {
			panic(fmt.Sprintf("dhcp4wire: built-in definition %q: %s", d.Name, err))
		}
	}

	agent := r.Space(SpaceAgentOptions)
	for _, d := range AgentOptionDefinitions() {
		if err := agent.Add(d); err != nil {
			panic(fmt.Sprintf("dhcp4wire: built-in agent definition %q: %s", d.Name, err))
		}
	}

	return r
}
