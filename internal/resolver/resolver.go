// Package resolver performs SSRF-safe DNS resolution: every hostname is
// looked up and rejected outright if any resolved address falls outside the
// globally-routable range.
package resolver

import (
	"context"
	"net"
	"time"

	perr "fetchmcp/internal/platform/errors"
)

// Order controls the preference of resolved address families. Verbatim
// preserves whatever order the system resolver returns.
type Order string

const (
	OrderVerbatim Order = "verbatim"
	OrderIPv4First Order = "ipv4first"
	OrderIPv6First Order = "ipv6first"
)

const defaultTimeout = 5 * time.Second

// Resolver performs the DNS preflight described in §4.2
type Resolver struct {
	timeout time.Duration
	order   Order
	lookup  func(ctx context.Context, host string) ([]net.IPAddr, error)
}

// New constructs a Resolver with the default 5s hard timeout
func New(order Order) *Resolver {
	r := &net.Resolver{}
	return &Resolver{
		timeout: defaultTimeout,
		order:   order,
		lookup:  r.LookupIPAddr,
	}
}

// Resolve looks up host and returns every address, ordered per Order, after
// verifying none of them is private/loopback/link-local/ULA/multicast/
// broadcast/0.0.0.0-8/169.254-16. Fails fast with EBLOCKED on the first
// disallowed address and also on an empty result set (there is no separate
// no-data error kind), and with a cancellation error if ctx is done before
// the lookup settles — implemented as a channel
// race between the lookup goroutine, ctx.Done(), and a hard timeout timer.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]net.IPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		if err := checkAllowed(ip); err != nil {
			return nil, err
		}
		return []net.IPAddr{{IP: ip}}, nil
	}

	type result struct {
		addrs []net.IPAddr
		err   error
	}
	done := make(chan result, 1)

	lookupCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	go func() {
		addrs, err := r.lookup(lookupCtx, host)
		done <- result{addrs: addrs, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, perr.Abortedf("dns preflight cancelled for %q", host)
	case <-lookupCtx.Done():
		return nil, perr.Newf(perr.ErrorCodeDNSTimeout, "dns lookup timed out for %q", host)
	case res := <-done:
		if res.err != nil {
			return nil, perr.Newf(perr.ErrorCodeDNSTimeout, "dns lookup failed for %q: %v", host, res.err)
		}
		if len(res.addrs) == 0 {
			return nil, perr.Newf(perr.ErrorCodeBlocked, "dns lookup for %q returned no addresses", host)
		}
		for _, a := range res.addrs {
			if err := checkAllowed(a.IP); err != nil {
				return nil, err
			}
		}
		return order(res.addrs, r.order), nil
	}
}

func order(addrs []net.IPAddr, o Order) []net.IPAddr {
	switch o {
	case OrderIPv4First:
		return stableSortByFamily(addrs, true)
	case OrderIPv6First:
		return stableSortByFamily(addrs, false)
	default:
		return addrs
	}
}

func stableSortByFamily(addrs []net.IPAddr, ipv4First bool) []net.IPAddr {
	out := make([]net.IPAddr, 0, len(addrs))
	var first, second []net.IPAddr
	for _, a := range addrs {
		is4 := a.IP.To4() != nil
		if is4 == ipv4First {
			first = append(first, a)
		} else {
			second = append(second, a)
		}
	}
	out = append(out, first...)
	out = append(out, second...)
	return out
}

// checkAllowed rejects any address that is not globally routable
func checkAllowed(ip net.IP) error {
	if ip == nil {
		return perr.Blockedf("nil address")
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() || ip.IsPrivate() {
		return perr.Blockedf("address %s is not globally routable", ip)
	}
	if ip4 := ip.To4(); ip4 != nil {
		if ip4[0] == 0 {
			return perr.Blockedf("address %s is in 0.0.0.0/8", ip)
		}
		if ip4.Equal(net.IPv4bcast) {
			return perr.Blockedf("address %s is the broadcast address", ip)
		}
	}
	if isULA(ip) {
		return perr.Blockedf("address %s is a unique local address", ip)
	}
	return nil
}

// isULA reports whether ip is an IPv6 unique local address (fc00::/7)
func isULA(ip net.IP) bool {
	ip6 := ip.To16()
	if ip6 == nil || ip.To4() != nil {
		return false
	}
	return ip6[0]&0xfe == 0xfc
}
