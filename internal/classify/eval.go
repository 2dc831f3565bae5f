package classify

import (
	"fmt"

	"github.com/zdnscloud/dhcp4-slave/internal/dhcp4wire"
)

// Matcher is a compiled class expression: a closure over a packet.  It
// replaces the original implementation's PktOptionMatcher function object
// built by ClientClassMatcherBuilder.
type Matcher func(pkt *dhcp4wire.Packet) (matched bool)

// Compile parses and compiles src into a Matcher, resolving symbolic
// option names against reg's dhcp4 space.  file is used only for error
// context (e.g. a config file path).
func Compile(src, file string, reg *dhcp4wire.Registry) (m Matcher, err error) {
	n, err := parseExpr(src, file)
	if err != nil {
		return nil, err
	}

	if err = resolveRefs(n, reg); err != nil {
		return nil, err
	}

	return compileNode(n), nil
}

// resolveRefs walks the tree once, converting any by-name option
// reference to its numeric code via reg, so Matcher never has to touch
// the registry at evaluation time.
func resolveRefs(n node, reg *dhcp4wire.Registry) (err error) {
	switch t := n.(type) {
	case *andNode:
		if err = resolveRefs(t.left, reg); err != nil {
			return err
		}
		return resolveRefs(t.right, reg)
	case *orNode:
		if err = resolveRefs(t.left, reg); err != nil {
			return err
		}
		return resolveRefs(t.right, reg)
	case *valueCheckNode:
		return resolveRef(&t.ref, reg)
	case *existsCheckNode:
		return resolveRef(&t.ref, reg)
	case *substringCheckNode:
		return resolveRef(&t.ref, reg)
	default:
		return fmt.Errorf("%w: unknown node type %T", ErrParse, n)
	}
}

func resolveRef(ref *optionRef, reg *dhcp4wire.Registry) (err error) {
	if !ref.byName {
		return nil
	}

	def, ok := reg.Space(dhcp4wire.SpaceDHCP4).ByName(ref.name)
	if !ok {
		return fmt.Errorf("%w: unknown option name %q", ErrParse, ref.name)
	}

	ref.code = def.Code
	ref.byName = false

	return nil
}

func compileNode(n node) (m Matcher) {
	switch t := n.(type) {
	case *andNode:
		left, right := compileNode(t.left), compileNode(t.right)
		return func(pkt *dhcp4wire.Packet) (ok bool) { return left(pkt) && right(pkt) }

	case *orNode:
		left, right := compileNode(t.left), compileNode(t.right)
		return func(pkt *dhcp4wire.Packet) (ok bool) { return left(pkt) || right(pkt) }

	case *existsCheckNode:
		code := t.ref.code
		expect := t.expect
		return func(pkt *dhcp4wire.Packet) (ok bool) {
			return pkt.Options.Has(code) == expect
		}

	case *valueCheckNode:
		code := t.ref.code
		lit := []byte(t.lit)
		equal := t.equal
		return func(pkt *dhcp4wire.Packet) (ok bool) {
			opt, present := pkt.Options.Get(code)
			if !present {
				return !equal
			}
			return bytesEqual(opt.AsBytes(), lit) == equal
		}

	case *substringCheckNode:
		code := t.ref.code
		start, length := t.start, t.length
		lit := []byte(t.lit)
		equal := t.equal
		return func(pkt *dhcp4wire.Packet) (ok bool) {
			opt, present := pkt.Options.Get(code)
			if !present {
				return !equal
			}
			return bytesEqual(substring(opt.AsBytes(), start, length), lit) == equal
		}

	default:
		return func(*dhcp4wire.Packet) (ok bool) { return false }
	}
}

// substring returns payload[start:start+length], clamped to the
// available bytes -- spec.md doesn't define behavior for an
// out-of-range substring, so we treat a request past the end of the
// buffer as matching nothing rather than panicking.
func substring(payload []byte, start, length int) (out []byte) {
	if start < 0 || start >= len(payload) {
		return nil
	}

	end := start + length
	if end > len(payload) {
		end = len(payload)
	}

	return payload[start:end]
}

func bytesEqual(a, b []byte) (ok bool) {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
