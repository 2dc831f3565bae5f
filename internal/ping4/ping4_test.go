package ping4_test

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zdnscloud/dhcp4-slave/internal/ping4"
)

func TestDisabled_Probe(t *testing.T) {
	var got ping4.Result
	done := make(chan struct{})

	ping4.Disabled{}.Probe(context.Background(), netip.MustParseAddr("192.0.2.1"), func(res ping4.Result) {
		got = res
		close(done)
	})

	<-done

	assert.NoError(t, got.Err)
	assert.False(t, got.Conflict)
}
