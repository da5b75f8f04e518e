package ds1054z

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"

	"github.com/bkoppe/bode/internal/instrument"
)

// scpiService is the mDNS service LXI instruments announce their raw SCPI
// socket under.
const scpiService = "_scpi-raw._tcp"

// ZeroconfDiscoverer finds a scope on the local network via mDNS. It is an
// optional strategy: a bench without multicast support simply passes an
// explicit address instead.
type ZeroconfDiscoverer struct {
	// Wait is how long to browse before giving up. Defaults to 3s.
	Wait time.Duration
	Log  zerolog.Logger
}

var _ instrument.Discoverer = (*ZeroconfDiscoverer)(nil)

// Discover browses for SCPI instruments and returns the address of the first
// one announced.
func (d *ZeroconfDiscoverer) Discover(ctx context.Context) (string, error) {
	wait := d.Wait
	if wait == 0 {
		wait = 3 * time.Second
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("ds1054z: starting mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Browse(ctx, scpiService, "local.", entries); err != nil {
		return "", fmt.Errorf("ds1054z: browsing %s: %w", scpiService, err)
	}

	for entry := range entries {
		if len(entry.AddrIPv4) == 0 {
			continue
		}
		addr := entry.AddrIPv4[0].String()
		d.Log.Info().Str("instance", entry.Instance).Str("addr", addr).Msg("oscilloscope discovered")
		return addr, nil
	}
	return "", fmt.Errorf("ds1054z: no instrument found via mdns within %s", wait)
}
