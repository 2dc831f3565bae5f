// Package duid generates and persists the server's DHCP Unique
// Identifier, used as the server-identifier source when none is
// configured explicitly.  It replaces the original implementation's
// DUIDFactory, specialized to the three DUID types the server actually
// needs: link-layer-plus-time, enterprise-number, and link-layer.
package duid

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/renameio/v2"
)

// Sentinel errors.
const (
	ErrTooShort      errors.Error = "duid too short"
	ErrNoLinkLayerID errors.Error = "no suitable link-layer identifier available"
)

// Type is the DUID type, RFC 8415 section 11.
type Type uint16

// DUID types in use by this package.
const (
	TypeLLT Type = 1
	TypeEN  Type = 2
	TypeLL  Type = 3
)

// String implements the fmt.Stringer interface for Type.
func (t Type) String() (s string) {
	switch t {
	case TypeLLT:
		return "LLT"
	case TypeEN:
		return "EN"
	case TypeLL:
		return "LL"
	default:
		return fmt.Sprintf("Type(%d)", uint16(t))
	}
}

// minLen is the shortest a well-formed DUID can be: a two-byte type
// plus at least one byte of payload.
const minLen = 3

// epoch is the DUID time epoch, 2000-01-01T00:00:00Z, per RFC 8415
// section 11.2.
var epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// DUID is an opaque DHCP Unique Identifier.
type DUID struct {
	raw []byte
}

// New validates raw as a DUID and wraps it.  raw is retained, not
// copied.
func New(raw []byte) (d DUID, err error) {
	if len(raw) < minLen {
		return DUID{}, fmt.Errorf("%w: got %d bytes, need at least %d", ErrTooShort, len(raw), minLen)
	}

	return DUID{raw: raw}, nil
}

// Type returns d's DUID type.
func (d DUID) Type() (t Type) {
	if len(d.raw) < 2 {
		return 0
	}

	return Type(uint16(d.raw[0])<<8 | uint16(d.raw[1]))
}

// Bytes returns the raw encoded DUID.  The caller must not modify the
// returned slice.
func (d DUID) Bytes() (raw []byte) { return d.raw }

// String renders d as colon-separated hex, matching the textual
// encoding the original DUIDFactory persists to its storage file.
func (d DUID) String() (s string) {
	parts := make([]string, len(d.raw))
	for i, b := range d.raw {
		parts[i] = hex.EncodeToString([]byte{b})
	}

	return strings.Join(parts, ":")
}

// Parse decodes the colon-separated hex form produced by String.
func Parse(s string) (d DUID, err error) {
	parts := strings.Split(s, ":")
	raw := make([]byte, 0, len(parts))
	for _, p := range parts {
		b, hexErr := hex.DecodeString(p)
		if hexErr != nil || len(b) != 1 {
			return DUID{}, fmt.Errorf("duid: malformed byte %q: %w", p, hexErr)
		}
		raw = append(raw, b[0])
	}

	return New(raw)
}

// LinkLayerIDFunc returns a non-empty link-layer identifier and its
// ARP hardware type for DUID-LLT/DUID-LL generation, standing in for
// the original's interface-enumeration fallback
// (createLinkLayerId), which this module's interface layer provides
// externally.
type LinkLayerIDFunc func() (id []byte, htype uint16, ok bool)

// Factory creates and persists the server's DUID, mirroring
// DUIDFactory: at most one DUID is current at a time, and every
// creation re-derives missing fields from whatever was previously
// stored rather than discarding it outright.
type Factory struct {
	storagePath string
	current     *DUID
}

// NewFactory returns a Factory that persists to storagePath.  An empty
// storagePath disables persistence; the factory then only holds the
// DUID in memory.
func NewFactory(storagePath string) (f *Factory) {
	return &Factory{storagePath: strings.TrimSpace(storagePath)}
}

// isStored reports whether f persists to a file.
func (f *Factory) isStored() (ok bool) { return f.storagePath != "" }

// Load reads the persisted DUID from storage, if any, replacing
// whatever is currently held in memory.  A missing or malformed file is
// not an error: it simply leaves f without a current DUID, exactly as
// DUIDFactory::readFromFile swallows its own parse errors.
func (f *Factory) Load() {
	f.current = nil

	if !f.isStored() {
		return
	}

	contents, err := os.ReadFile(f.storagePath)
	if err != nil {
		return
	}

	text := strings.TrimSpace(string(contents))
	if text == "" {
		return
	}

	d, err := Parse(text)
	if err != nil {
		return
	}

	f.current = &d
}

// Current returns the DUID currently held in memory, if any.
func (f *Factory) Current() (d DUID, ok bool) {
	if f.current == nil {
		return DUID{}, false
	}

	return *f.current, true
}

// CreateLLT creates a DUID-LLT (link-layer address plus time).  A zero
// htype or timeIn, or a nil llIdentifier, is filled in from the
// previously stored DUID-LLT when one exists, and otherwise from
// linkLayerID; timeIn falls back to the current time.
func (f *Factory) CreateLLT(htype uint16, timeIn uint32, llIdentifier []byte, linkLayerID LinkLayerIDFunc) (d DUID, err error) {
	f.Load()

	var htypeCurrent uint16
	var timeCurrent uint32
	var idCurrent []byte

	if f.current != nil && f.current.Type() == TypeLLT && len(f.current.raw) > 8 {
		raw := f.current.raw
		htypeCurrent = uint16(raw[2])<<8 | uint16(raw[3])
		timeCurrent = uint32(raw[4])<<24 | uint32(raw[5])<<16 | uint32(raw[6])<<8 | uint32(raw[7])
		idCurrent = append([]byte{}, raw[8:]...)
	}

	timeOut := timeIn
	if timeOut == 0 {
		if timeCurrent != 0 {
			timeOut = timeCurrent
		} else {
			timeOut = uint32(time.Now().UTC().Sub(epoch).Seconds())
		}
	}

	idOut := llIdentifier
	htypeOut := htype

	if len(idOut) == 0 {
		if len(idCurrent) != 0 {
			idOut, htypeOut = idCurrent, htypeCurrent
		} else {
			idOut, htypeOut, err = createLinkLayerID(linkLayerID)
			if err != nil {
				return DUID{}, err
			}
		}
	} else if htypeOut == 0 {
		if htypeCurrent != 0 {
			htypeOut = htypeCurrent
		} else {
			htypeOut = 1 // HTYPE_ETHER
		}
	}

	raw := make([]byte, 8, 8+len(idOut))
	putUint16(raw[0:2], uint16(TypeLLT))
	putUint16(raw[2:4], htypeOut)
	putUint32(raw[4:8], timeOut)
	raw = append(raw, idOut...)

	return f.set(raw)
}

// CreateEN creates a DUID-EN (enterprise number plus identifier).  A
// zero enterpriseID falls back to the previously stored DUID-EN's
// enterprise number, and failing that, to enterpriseIDDefault. A nil
// identifier falls back similarly, and as a last resort to six random
// bytes.
func (f *Factory) CreateEN(enterpriseID uint32, identifier []byte, enterpriseIDDefault uint32, rnd func(n int) []byte) (d DUID, err error) {
	f.Load()

	var enterpriseIDCurrent uint32
	var idCurrent []byte

	if f.current != nil && f.current.Type() == TypeEN && len(f.current.raw) > 6 {
		raw := f.current.raw
		enterpriseIDCurrent = uint32(raw[2])<<24 | uint32(raw[3])<<16 | uint32(raw[4])<<8 | uint32(raw[5])
		idCurrent = append([]byte{}, raw[6:]...)
	}

	enterpriseIDOut := enterpriseID
	if enterpriseIDOut == 0 {
		if enterpriseIDCurrent != 0 {
			enterpriseIDOut = enterpriseIDCurrent
		} else {
			enterpriseIDOut = enterpriseIDDefault
		}
	}

	raw := make([]byte, 6, 12)
	putUint16(raw[0:2], uint16(TypeEN))
	putUint32(raw[2:6], enterpriseIDOut)

	switch {
	case len(identifier) != 0:
		raw = append(raw, identifier...)
	case len(idCurrent) != 0:
		raw = append(raw, idCurrent...)
	default:
		raw = append(raw, rnd(6)...)
	}

	return f.set(raw)
}

// CreateLL creates a DUID-LL (link-layer address only), following the
// same identifier/htype fallback rules as CreateLLT minus the
// timestamp.
func (f *Factory) CreateLL(htype uint16, llIdentifier []byte, linkLayerID LinkLayerIDFunc) (d DUID, err error) {
	f.Load()

	var htypeCurrent uint16
	var idCurrent []byte

	if f.current != nil && f.current.Type() == TypeLL && len(f.current.raw) > 4 {
		raw := f.current.raw
		htypeCurrent = uint16(raw[2])<<8 | uint16(raw[3])
		idCurrent = append([]byte{}, raw[4:]...)
	}

	idOut := llIdentifier
	htypeOut := htype

	if len(idOut) == 0 {
		if len(idCurrent) != 0 {
			idOut, htypeOut = idCurrent, htypeCurrent
		} else {
			idOut, htypeOut, err = createLinkLayerID(linkLayerID)
			if err != nil {
				return DUID{}, err
			}
		}
	} else if htypeOut == 0 {
		if htypeCurrent != 0 {
			htypeOut = htypeCurrent
		} else {
			htypeOut = 1
		}
	}

	raw := make([]byte, 4, 4+len(idOut))
	putUint16(raw[0:2], uint16(TypeLL))
	putUint16(raw[2:4], htypeOut)
	raw = append(raw, idOut...)

	return f.set(raw)
}

// Get returns the current DUID, creating one if none exists: it first
// tries DUID-LLT via linkLayerID, and falls back to a random DUID-EN if
// no link-layer identifier is available, mirroring DUIDFactory::get.
func (f *Factory) Get(linkLayerID LinkLayerIDFunc, enterpriseIDDefault uint32, rnd func(n int) []byte) (d DUID, err error) {
	if cur, ok := f.Current(); ok {
		return cur, nil
	}

	f.Load()
	if cur, ok := f.Current(); ok {
		return cur, nil
	}

	d, err = f.CreateLLT(0, 0, nil, linkLayerID)
	if err == nil {
		return d, nil
	}

	return f.CreateEN(0, nil, enterpriseIDDefault, rnd)
}

// set validates raw, persists it atomically if storage is configured,
// and stores it as the current DUID.
func (f *Factory) set(raw []byte) (d DUID, err error) {
	d, err = New(raw)
	if err != nil {
		return DUID{}, err
	}

	if f.isStored() {
		err = renameio.WriteFile(f.storagePath, []byte(d.String()), fs.FileMode(0o644))
		if err != nil {
			return DUID{}, fmt.Errorf("duid: writing %s: %w", f.storagePath, err)
		}
	}

	f.current = &d

	return d, nil
}

func createLinkLayerID(linkLayerID LinkLayerIDFunc) (id []byte, htype uint16, err error) {
	if linkLayerID == nil {
		return nil, 0, ErrNoLinkLayerID
	}

	id, htype, ok := linkLayerID()
	if !ok || len(id) == 0 {
		return nil, 0, ErrNoLinkLayerID
	}

	return id, htype, nil
}

func putUint16(b []byte, v uint16) { b[0] = byte(v >> 8); b[1] = byte(v) }

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
