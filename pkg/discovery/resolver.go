package discovery

import (
	"context"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 5 * time.Second

// ResolvedController describes one discovered controller endpoint.
type ResolvedController struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// HostName is the target host name.
	HostName string

	// Port is the endpoint's UDP port.
	Port int

	// IPs contains the resolved IP addresses.
	IPs []net.IP

	// TXT is the decoded controller metadata.
	TXT TXTRecord
}

// Addr returns a dialable UDP address for the endpoint, preferring the
// first resolved IP. Returns nil if no address was resolved.
func (r *ResolvedController) Addr() *net.UDPAddr {
	if len(r.IPs) == 0 {
		return nil
	}
	return &net.UDPAddr{IP: r.IPs[0], Port: r.Port}
}

// MDNSResolver is the interface for mDNS service resolution.
// This allows for dependency injection in tests.
type MDNSResolver interface {
	// Browse browses for services of the given type.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using
// grandcat/zeroconf.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// BrowseTimeout bounds browse operations when the caller's context
	// has no deadline of its own. If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration
}

// Resolver discovers controller endpoints via DNS-SD.
type Resolver struct {
	resolver MDNSResolver
	timeout  time.Duration
}

// NewResolver creates a Resolver with the given configuration.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	r := &Resolver{
		resolver: config.MDNSResolver,
		timeout:  config.BrowseTimeout,
	}
	if r.timeout == 0 {
		r.timeout = DefaultBrowseTimeout
	}
	if r.resolver == nil {
		zr, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		r.resolver = &zeroconfResolver{resolver: zr}
	}
	return r, nil
}

// Browse discovers controller endpoints on the local network. It blocks
// until the browse window closes and returns everything found.
func (r *Resolver) Browse(ctx context.Context) ([]ResolvedController, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := r.resolver.Browse(ctx, ServiceType, DefaultDomain, entries); err != nil {
		return nil, err
	}

	var found []ResolvedController
	for entry := range entries {
		if entry == nil {
			continue
		}

		rc := ResolvedController{
			Instance: entry.Instance,
			HostName: entry.HostName,
			Port:     entry.Port,
			TXT:      DecodeTXT(entry.Text),
		}
		rc.IPs = append(rc.IPs, entry.AddrIPv4...)
		rc.IPs = append(rc.IPs, entry.AddrIPv6...)
		found = append(found, rc)
	}

	return found, nil
}

// First returns the first controller endpoint discovered, or ErrNotFound.
func (r *Resolver) First(ctx context.Context) (ResolvedController, error) {
	found, err := r.Browse(ctx)
	if err != nil {
		return ResolvedController{}, err
	}
	if len(found) == 0 {
		return ResolvedController{}, ErrNotFound
	}
	return found[0], nil
}
