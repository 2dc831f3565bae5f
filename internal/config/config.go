// Package config loads and validates the JSON configuration surface
// enumerated in spec.md section 6 (dhcp4.interfaces-config,
// worker-count, kea-master-addr, ping-check, option-def,
// client-classes, subnet4, hooks-libraries) and builds the runtime
// objects the rest of the module consumes from it.
package config

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"

	"github.com/zdnscloud/dhcp4-slave/internal/classify"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4wire"
	"github.com/zdnscloud/dhcp4-slave/internal/subnetcfg"
)

// Sentinel errors.
const (
	ErrInvalidConfig errors.Error = "invalid configuration"
)

// File is the top-level document: a "dhcp4" object, matching Kea's own
// top-level config shape, next to the "logging" and "metrics" objects
// that configure this process's logging and metrics endpoint.
type File struct {
	DHCP4   DHCP4   `json:"dhcp4"`
	Logging Logging `json:"logging"`
	Metrics Metrics `json:"metrics"`
}

// type check
var _ validate.Interface = (*File)(nil)

// Validate implements the [validate.Interface] interface for *File.
func (f *File) Validate() (err error) {
	if f == nil {
		return errors.ErrNoValue
	}

	return errors.Annotate(f.DHCP4.Validate(), "dhcp4: %w")
}

// Logging configures the process-wide logger, matching the teacher's
// own "log" settings (internal/home/log.go's logSettings): plain
// stdout by default, or a rotated file via lumberjack.
type Logging struct {
	// File is the log file path. Empty means log to stdout.
	File string `json:"file,omitempty"`

	Verbose    bool `json:"verbose,omitempty"`
	MaxSizeMB  int  `json:"max-size,omitempty"`
	MaxAgeDays int  `json:"max-age,omitempty"`
	MaxBackups int  `json:"max-backups,omitempty"`
	Compress   bool `json:"compress,omitempty"`
}

// Metrics configures the bundled Prometheus exporter, spec.md section
// 2/SPEC_FULL.md item 14. An empty ListenAddr disables the exporter and
// leaves the stats sink a no-op.
type Metrics struct {
	ListenAddr string `json:"listen-addr,omitempty"`
}

// DHCP4 is the slave's own configuration surface, spec.md section 6.
type DHCP4 struct {
	InterfacesConfig InterfacesConfig `json:"interfaces-config"`
	PingCheck        PingCheck        `json:"ping-check"`

	// KeaMasterAddr is the allocation master's "host:port" address.
	KeaMasterAddr string `json:"kea-master-addr"`

	// DUIDFile is the path the server's persistent DUID is stored at.
	DUIDFile string `json:"duid-file"`

	OptionDef      []OptionDef   `json:"option-def"`
	ClientClasses  []ClientClass `json:"client-classes"`
	Subnet4        []Subnet4     `json:"subnet4"`
	HooksLibraries []HookLibrary `json:"hooks-libraries"`

	// WorkerCount is the size of the worker pool, spec.md section 5. A
	// value of 0 lets the caller default it from hardware concurrency.
	WorkerCount int `json:"worker-count"`
}

// type check
var _ validate.Interface = (*DHCP4)(nil)

// Validate implements the [validate.Interface] interface for *DHCP4.
func (c *DHCP4) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotNegative("worker-count", c.WorkerCount),
		validate.NotEmpty("kea-master-addr", c.KeaMasterAddr),
	}

	if len(c.InterfacesConfig.Interfaces) == 0 {
		errs = append(errs, fmt.Errorf("interfaces-config.interfaces: %w", errors.ErrEmptyValue))
	}
	if len(c.Subnet4) == 0 {
		errs = append(errs, fmt.Errorf("subnet4: %w", errors.ErrEmptyValue))
	}

	for i, def := range c.OptionDef {
		errs = validate.Append(errs, fmt.Sprintf("option-def.%d", i), def)
	}
	for i, cls := range c.ClientClasses {
		errs = validate.Append(errs, fmt.Sprintf("client-classes.%d", i), cls)
	}

	seen := map[subnetcfg.SubnetID]bool{}
	for i, sub := range c.Subnet4 {
		errs = validate.Append(errs, fmt.Sprintf("subnet4.%d", i), sub)
		if seen[sub.ID] {
			errs = append(errs, fmt.Errorf("%w: subnet4.%d: duplicate id %d", ErrInvalidConfig, i, sub.ID))
		}
		seen[sub.ID] = true
	}

	for i, lib := range c.HooksLibraries {
		errs = validate.Append(errs, fmt.Sprintf("hooks-libraries.%d", i), lib)
	}

	return errors.Join(errs...)
}

// InterfacesConfig names the interfaces the server listens on, spec.md
// section 6's "dhcp4.interfaces-config.interfaces".
type InterfacesConfig struct {
	Interfaces []string `json:"interfaces"`
}

// PingCheck configures the liveness probe, spec.md section 6's
// "dhcp4.ping-check".
type PingCheck struct {
	Enable    bool `json:"enable"`
	TimeoutMS int  `json:"timeout-ms"`
}

// Timeout returns p's timeout as a [time.Duration].
func (p PingCheck) Timeout() (d time.Duration) {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// OptionDef is one user-supplied option definition, spec.md section
// 4.2/6's "dhcp4.option-def[]".
type OptionDef struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Space       string   `json:"space,omitempty"`
	RecordTypes []string `json:"record-types,omitempty"`
	Code        uint8    `json:"code"`
	Array       bool     `json:"array,omitempty"`
}

// type check
var _ validate.Interface = OptionDef{}

// Validate implements the [validate.Interface] interface for OptionDef.
func (d OptionDef) Validate() (err error) {
	errs := []error{
		validate.NotEmpty("name", d.Name),
		validate.NotEmpty("type", d.Type),
	}

	if _, tErr := parseScalarType(d.Type); tErr != nil {
		errs = append(errs, tErr)
	}

	return errors.Join(errs...)
}

// definition builds the [dhcp4wire.Definition] d describes.
func (d OptionDef) definition() (def dhcp4wire.Definition, err error) {
	typ, err := parseScalarType(d.Type)
	if err != nil {
		return dhcp4wire.Definition{}, err
	}

	def = dhcp4wire.Definition{
		Name:  d.Name,
		Code:  d.Code,
		Type:  typ,
		Array: d.Array,
	}

	for i, rt := range d.RecordTypes {
		fieldType, fErr := parseScalarType(rt)
		if fErr != nil {
			return dhcp4wire.Definition{}, fmt.Errorf("record-types[%d]: %w", i, fErr)
		}
		def.RecordFields = append(def.RecordFields, dhcp4wire.FieldDef{
			Name: fmt.Sprintf("field%d", i),
			Type: fieldType,
		})
	}

	return def, nil
}

// parseScalarType maps a config-file type name to a [dhcp4wire.ScalarType],
// using the same vocabulary Kea's option-def "type" field accepts for the
// subset of types this codec models.
func parseScalarType(s string) (t dhcp4wire.ScalarType, err error) {
	switch s {
	case "empty":
		return dhcp4wire.TypeEmpty, nil
	case "binary":
		return dhcp4wire.TypeBinary, nil
	case "boolean":
		return dhcp4wire.TypeBoolean, nil
	case "uint8":
		return dhcp4wire.TypeUint8, nil
	case "uint16":
		return dhcp4wire.TypeUint16, nil
	case "uint32":
		return dhcp4wire.TypeUint32, nil
	case "ipv4-address":
		return dhcp4wire.TypeIPv4Address, nil
	case "string":
		return dhcp4wire.TypeString, nil
	case "fqdn":
		return dhcp4wire.TypeFQDN, nil
	case "record":
		return dhcp4wire.TypeRecord, nil
	default:
		return 0, fmt.Errorf("%w: unknown option type %q", ErrInvalidConfig, s)
	}
}

// ClientClass is one class-matching expression, spec.md section
// 4.3/6's "dhcp4.client-classes[]".
type ClientClass struct {
	Name string `json:"name"`
	Test string `json:"test"`
}

// type check
var _ validate.Interface = ClientClass{}

// Validate implements the [validate.Interface] interface for ClientClass.
func (c ClientClass) Validate() (err error) {
	return errors.Join(
		validate.NotEmpty("name", c.Name),
		validate.NotEmpty("test", c.Test),
	)
}

// HookLibrary names one plugin to load, spec.md section 4.6/6's
// "dhcp4.hooks-libraries[]".
type HookLibrary struct {
	Library    string         `json:"library"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// type check
var _ validate.Interface = HookLibrary{}

// Validate implements the [validate.Interface] interface for HookLibrary.
func (h HookLibrary) Validate() (err error) {
	return validate.NotEmpty("library", h.Library)
}

// ParametersJSON marshals h.Parameters to the opaque configuration
// string [hooks.Dispatcher.LoadPlugin] passes to the plugin's Load.
func (h HookLibrary) ParametersJSON() (s string, err error) {
	if len(h.Parameters) == 0 {
		return "", nil
	}

	b, err := json.Marshal(h.Parameters)
	if err != nil {
		return "", fmt.Errorf("marshaling parameters for %q: %w", h.Library, err)
	}

	return string(b), nil
}

// Subnet4 is one configured subnet, spec.md section 3/6's "dhcp4.subnet4[]".
type Subnet4 struct {
	Subnet            string         `json:"subnet"`
	NextServer        string         `json:"next-server,omitempty"`
	RelayAddr         string         `json:"relay-addr,omitempty"`
	Interface         string         `json:"interface,omitempty"`
	Pools             []string       `json:"pools"`
	Whitelist         []string       `json:"client-class-whitelist,omitempty"`
	Blacklist         []string       `json:"client-class-blacklist,omitempty"`
	OptionData        []OptionData   `json:"option-data,omitempty"`
	ID                subnetcfg.SubnetID `json:"id"`
	ValidLifetimeS    int            `json:"valid-lifetime"`
	MinValidLifetimeS int            `json:"min-valid-lifetime,omitempty"`
	MaxValidLifetimeS int            `json:"max-valid-lifetime,omitempty"`
	RenewTimerS       int            `json:"renew-timer,omitempty"`
	RebindTimerS      int            `json:"rebind-timer,omitempty"`
}

// type check
var _ validate.Interface = Subnet4{}

// Validate implements the [validate.Interface] interface for Subnet4.
func (s Subnet4) Validate() (err error) {
	errs := []error{
		validate.NotEmpty("subnet", s.Subnet),
		validate.NotNegative("valid-lifetime", s.ValidLifetimeS),
	}

	if len(s.Pools) == 0 {
		errs = append(errs, fmt.Errorf("pools: %w", errors.ErrEmptyValue))
	}

	if s.ID == 0 {
		errs = append(errs, fmt.Errorf("%w: id: must be nonzero", ErrInvalidConfig))
	}

	if _, pErr := netip.ParsePrefix(s.Subnet); pErr != nil {
		errs = append(errs, fmt.Errorf("subnet: %w", pErr))
	}

	for i, p := range s.Pools {
		if _, _, pErr := parsePoolRange(p); pErr != nil {
			errs = append(errs, fmt.Errorf("pools[%d]: %w", i, pErr))
		}
	}

	return errors.Join(errs...)
}

// subnet builds the [subnetcfg.Subnet] s describes.
func (s Subnet4) subnet() (sub *subnetcfg.Subnet, err error) {
	prefix, err := netip.ParsePrefix(s.Subnet)
	if err != nil {
		return nil, fmt.Errorf("subnet %q: %w", s.Subnet, err)
	}

	pools := make([]subnetcfg.Pool, 0, len(s.Pools))
	for _, raw := range s.Pools {
		first, last, pErr := parsePoolRange(raw)
		if pErr != nil {
			return nil, pErr
		}

		pool, pErr := subnetcfg.NewPool(first, last)
		if pErr != nil {
			return nil, pErr
		}
		pools = append(pools, pool)
	}

	valid := time.Duration(s.ValidLifetimeS) * time.Second
	minValid := valid
	if s.MinValidLifetimeS > 0 {
		minValid = time.Duration(s.MinValidLifetimeS) * time.Second
	}
	maxValid := valid
	if s.MaxValidLifetimeS > 0 {
		maxValid = time.Duration(s.MaxValidLifetimeS) * time.Second
	}

	t1 := time.Duration(float64(valid) * 0.5)
	if s.RenewTimerS > 0 {
		t1 = time.Duration(s.RenewTimerS) * time.Second
	}
	t2 := time.Duration(float64(valid) * 0.875)
	if s.RebindTimerS > 0 {
		t2 = time.Duration(s.RebindTimerS) * time.Second
	}

	sub = &subnetcfg.Subnet{
		ID:           s.ID,
		Prefix:       prefix,
		Pools:        pools,
		Whitelist:    s.Whitelist,
		Blacklist:    s.Blacklist,
		Iface:        s.Interface,
		DefaultValid: valid,
		MinValid:     minValid,
		MaxValid:     maxValid,
		T1:           t1,
		T2:           t2,
		OptionData:   map[uint8]dhcp4wire.Option{},
	}

	if s.NextServer != "" {
		sub.SIAddr, err = netip.ParseAddr(s.NextServer)
		if err != nil {
			return nil, fmt.Errorf("next-server %q: %w", s.NextServer, err)
		}
	}

	if s.RelayAddr != "" {
		sub.RelayAddr, err = netip.ParseAddr(s.RelayAddr)
		if err != nil {
			return nil, fmt.Errorf("relay-addr %q: %w", s.RelayAddr, err)
		}
	}

	for _, od := range s.OptionData {
		opt, oErr := od.option()
		if oErr != nil {
			return nil, fmt.Errorf("subnet %d: option-data: %w", s.ID, oErr)
		}
		sub.OptionData[od.Code] = opt
	}

	return sub, nil
}

// parsePoolRange parses a "first-last" pool string, Kea's own pool
// notation (`dhcp4.subnet4[].pools[].pool`, simplified here to the bare
// range since this module has no separate "pool" wrapper key).
func parsePoolRange(s string) (first, last netip.Addr, err error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: pool %q: want \"first-last\"", ErrInvalidConfig, s)
	}

	first, err = netip.ParseAddr(strings.TrimSpace(lo))
	if err != nil {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("pool %q: %w", s, err)
	}

	last, err = netip.ParseAddr(strings.TrimSpace(hi))
	if err != nil {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("pool %q: %w", s, err)
	}

	return first, last, nil
}

// OptionData is one subnet's configured option instance, spec.md
// section 3/6's "dhcp4.subnet4[].option-data[]". Only the value shapes
// the core's own components actually construct are supported directly
// (ipv4 address, ipv4 address list, uint32, string); anything else is
// given as raw hex, matching the opaque fallback the wire codec itself
// uses for options without a definition.
type OptionData struct {
	Space    string   `json:"space,omitempty"`
	IPv4     string   `json:"ipv4,omitempty"`
	Str      *string  `json:"string,omitempty"`
	Hex      string   `json:"hex,omitempty"`
	Uint32   *uint32  `json:"uint32,omitempty"`
	IPv4List []string `json:"ipv4-list,omitempty"`
	Code     uint8    `json:"code"`
}

// option builds the [dhcp4wire.Option] od describes.
func (od OptionData) option() (opt dhcp4wire.Option, err error) {
	switch {
	case od.IPv4 != "":
		addr, pErr := netip.ParseAddr(od.IPv4)
		if pErr != nil {
			return dhcp4wire.Option{}, fmt.Errorf("ipv4: %w", pErr)
		}
		return dhcp4wire.NewScalarOption(od.Code, dhcp4wire.IPv4Field(addr)), nil
	case len(od.IPv4List) > 0:
		fields := make([]dhcp4wire.Field, 0, len(od.IPv4List))
		for _, raw := range od.IPv4List {
			addr, pErr := netip.ParseAddr(raw)
			if pErr != nil {
				return dhcp4wire.Option{}, fmt.Errorf("ipv4-list: %w", pErr)
			}
			fields = append(fields, dhcp4wire.IPv4Field(addr))
		}
		return dhcp4wire.NewArrayOption(od.Code, fields), nil
	case od.Uint32 != nil:
		return dhcp4wire.NewScalarOption(od.Code, dhcp4wire.Uint32Field(*od.Uint32)), nil
	case od.Str != nil:
		return dhcp4wire.NewScalarOption(od.Code, dhcp4wire.StringField(*od.Str)), nil
	case od.Hex != "":
		data, hErr := parseHex(od.Hex)
		if hErr != nil {
			return dhcp4wire.Option{}, fmt.Errorf("hex: %w", hErr)
		}
		return dhcp4wire.NewOpaqueOption(od.Code, data), nil
	default:
		return dhcp4wire.Option{}, fmt.Errorf("%w: option-data code %d: no recognized value field set",
			ErrInvalidConfig, od.Code)
	}
}

func parseHex(s string) (data []byte, err error) {
	s = strings.ReplaceAll(s, ":", "")
	data = make([]byte, len(s)/2)
	for i := range data {
		v, pErr := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if pErr != nil {
			return nil, pErr
		}
		data[i] = byte(v)
	}
	return data, nil
}

// Built is the runtime-ready product of loading and validating a [File]:
// every collaborator the rest of the module needs, built once so a
// reconfiguration can swap all of it out atomically.
type Built struct {
	Registry       *dhcp4wire.Registry
	Classes        *classify.Table
	Subnets        *subnetcfg.Registry
	Interfaces     []string
	KeaMasterAddr  string
	DUIDFile       string
	HooksLibraries []HookLibrary
	PingEnable     bool
	PingTimeout    time.Duration
	WorkerCount    int
}

// Load reads and parses the JSON document at path into a [File].
func Load(path string) (f *File, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}

	f = &File{}
	if err = json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}

	return f, nil
}

// LoadAndBuild loads, validates, and builds the file at path in one
// call.
func LoadAndBuild(path string) (b *Built, err error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err = f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return f.DHCP4.Build()
}

// Build converts a validated DHCP4 into its runtime form.
func (c *DHCP4) Build() (b *Built, err error) {
	reg := dhcp4wire.NewStandardRegistry()
	for _, def := range c.OptionDef {
		d, dErr := def.definition()
		if dErr != nil {
			return nil, fmt.Errorf("option-def %q: %w", def.Name, dErr)
		}

		space := def.Space
		if space == "" {
			space = dhcp4wire.SpaceDHCP4
		}
		if aErr := reg.Space(space).Add(d); aErr != nil {
			return nil, fmt.Errorf("option-def %q: %w", def.Name, aErr)
		}
	}

	classDefs := make([]container.KeyValue[string, string], 0, len(c.ClientClasses))
	for _, cls := range c.ClientClasses {
		classDefs = append(classDefs, container.KeyValue[string, string]{Key: cls.Name, Value: cls.Test})
	}
	classes, err := classify.NewTable(classDefs, reg)
	if err != nil {
		return nil, fmt.Errorf("client-classes: %w", err)
	}

	subnets := subnetcfg.NewRegistry()
	for _, sc := range c.Subnet4 {
		sub, sErr := sc.subnet()
		if sErr != nil {
			return nil, fmt.Errorf("subnet4: %w", sErr)
		}
		if sErr = subnets.Add(sub); sErr != nil {
			return nil, fmt.Errorf("subnet4: %w", sErr)
		}
	}

	return &Built{
		Registry:       reg,
		Classes:        classes,
		Subnets:        subnets,
		Interfaces:     c.InterfacesConfig.Interfaces,
		WorkerCount:    c.WorkerCount,
		KeaMasterAddr:  c.KeaMasterAddr,
		DUIDFile:       c.DUIDFile,
		HooksLibraries: c.HooksLibraries,
		PingEnable:     c.PingCheck.Enable,
		PingTimeout:    c.PingCheck.Timeout(),
	}, nil
}
