package classify

import (
	"fmt"

	"github.com/AdguardTeam/golibs/container"
	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4wire"
)

// Class is one configured client class: a name and its compiled
// matching expression.
type Class struct {
	Name    string
	matcher Matcher
}

// Table is an ordered collection of compiled [Class]es, evaluated in
// configuration order against every inbound packet.  It replaces the
// original implementation's ClientClassManager singleton.
type Table struct {
	classes []Class
}

// NewTable compiles every entry of defs (name -> expression source) in
// the given order against reg, returning a ready-to-evaluate Table.  Each
// failing expression is reported with its class name and position so a
// config loader can attribute the error.
func NewTable(defs []container.KeyValue[string, string], reg *dhcp4wire.Registry) (t *Table, err error) {
	t = &Table{classes: make([]Class, 0, len(defs))}

	for _, kv := range defs {
		m, cErr := Compile(kv.Value, kv.Key, reg)
		if cErr != nil {
			return nil, fmt.Errorf("compiling client class %q: %w", kv.Key, cErr)
		}

		t.classes = append(t.classes, Class{Name: kv.Key, matcher: m})
	}

	return t, nil
}

// Tag evaluates every class in t against pkt, in configuration order,
// and returns the set of matching class names plus, independently, the
// vendor-class-identifier-derived tag if the packet carries option 60.
// It replaces Dhcpv4Srv::classifyPacket/classifyByVendor.
func (t *Table) Tag(pkt *dhcp4wire.Packet) (classes *container.MapSet[string]) {
	classes = container.NewMapSet[string]()

	for _, c := range t.classes {
		if c.matcher(pkt) {
			classes.Add(c.Name)
		}
	}

	if tag, ok := VendorClassTag(pkt); ok {
		classes.Add(tag)
	}

	return classes
}

// Len returns the number of configured classes.
func (t *Table) Len() (n int) { return len(t.classes) }
