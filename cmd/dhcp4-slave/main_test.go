package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/zdnscloud/dhcp4-slave/internal/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("stdout", func(t *testing.T) {
		l := newLogger(config.Logging{})
		assert.NotNil(t, l)
	})

	t.Run("file", func(t *testing.T) {
		l := newLogger(config.Logging{File: t.TempDir() + "/dhcp4-slave.log"})
		assert.NotNil(t, l)
	})
}

func TestRandBytes(t *testing.T) {
	b := randBytes(6)
	assert.Len(t, b, 6)
}

func TestIfaceAddrFunc_UnknownInterface(t *testing.T) {
	_, ok := ifaceAddrFunc("no-such-iface-xyz")
	assert.False(t, ok)
}

func TestLinkLayerID_NoPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		linkLayerID()
	})
}

// TestDHCP4Equal_ReconfigSkip exercises the same cmp.Equal predicate
// supervisor.reload uses to decide whether a reloaded configuration
// actually changed.
func TestDHCP4Equal_ReconfigSkip(t *testing.T) {
	base := config.DHCP4{
		KeaMasterAddr: "127.0.0.1:8067",
		Subnet4: []config.Subnet4{{
			Subnet: "192.0.2.0/24",
			Pools:  []string{"192.0.2.10-192.0.2.100"},
		}},
	}

	reformatted := config.DHCP4{
		KeaMasterAddr: "127.0.0.1:8067",
		Subnet4: []config.Subnet4{{
			Subnet: "192.0.2.0/24",
			Pools:  []string{"192.0.2.10-192.0.2.100"},
		}},
	}
	assert.True(t, cmp.Equal(base, reformatted), "semantically identical configs must compare equal")

	changed := reformatted
	changed.KeaMasterAddr = "127.0.0.1:8068"
	assert.False(t, cmp.Equal(base, changed), "a changed field must be detected")
}
