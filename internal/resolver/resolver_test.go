package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	perr "fetchmcp/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFakeLookup(r *Resolver, addrs []net.IPAddr, err error) {
	r.lookup = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		return addrs, err
	}
}

func TestResolve_RejectsPrivateAddress(t *testing.T) {
	t.Parallel()
	r := New(OrderVerbatim)
	withFakeLookup(r, []net.IPAddr{{IP: net.ParseIP("10.0.0.5")}}, nil)

	_, err := r.Resolve(context.Background(), "internal.example")
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeBlocked, perr.CodeOf(err))
}

func TestResolve_RejectsLinkLocal(t *testing.T) {
	t.Parallel()
	r := New(OrderVerbatim)
	withFakeLookup(r, []net.IPAddr{{IP: net.ParseIP("169.254.169.254")}}, nil)

	_, err := r.Resolve(context.Background(), "metadata.internal")
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeBlocked, perr.CodeOf(err))
}

func TestResolve_AllowsPublicAddress(t *testing.T) {
	t.Parallel()
	r := New(OrderVerbatim)
	withFakeLookup(r, []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil)

	addrs, err := r.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Len(t, addrs, 1)
}

func TestResolve_CancellationWins(t *testing.T) {
	t.Parallel()
	r := New(OrderVerbatim)
	r.lookup = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, "slow.example")
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeAborted, perr.CodeOf(err))
}

func TestResolve_EmptyResultIsBlocked(t *testing.T) {
	t.Parallel()
	r := New(OrderVerbatim)
	withFakeLookup(r, nil, nil)

	_, err := r.Resolve(context.Background(), "nowhere.example")
	require.Error(t, err)
}

func TestResolve_LiteralIPSkipsLookup(t *testing.T) {
	t.Parallel()
	r := New(OrderVerbatim)
	addrs, err := r.Resolve(context.Background(), "93.184.216.34")
	require.NoError(t, err)
	assert.Len(t, addrs, 1)
}

func TestResolve_DNSTimeout(t *testing.T) {
	t.Parallel()
	r := New(OrderVerbatim)
	r.timeout = 10 * time.Millisecond
	r.lookup = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := r.Resolve(context.Background(), "slow.example")
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeDNSTimeout, perr.CodeOf(err))
}
