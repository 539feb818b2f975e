// sciver queries a TISCI controller endpoint for its firmware version.
//
// The endpoint is either given explicitly with -addr or discovered on the
// local network via DNS-SD.
//
// Usage:
//
//	sciver [options]
//
// Options:
//
//	-addr     Controller endpoint address (host:port)
//	-discover Discover the endpoint via DNS-SD instead of -addr
//	-host     Host id to identify as (default: 2)
//	-timeout  Per-request response timeout (default: 200ms)
//	-psk      Pre-shared key; enables encrypted framing when set
//	-verbose  Enable debug logging
//
// Example:
//
//	sciver -addr 192.168.1.20:5910
//	sciver -discover -psk secret
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"github.com/pion/logging"

	"github.com/konsulko/sciproto/pkg/discovery"
	"github.com/konsulko/sciproto/pkg/exchange"
	"github.com/konsulko/sciproto/pkg/sci"
	"github.com/konsulko/sciproto/pkg/transport"
)

func main() {
	var (
		addr     = flag.String("addr", "", "controller endpoint address (host:port)")
		discover = flag.Bool("discover", false, "discover the endpoint via DNS-SD")
		hostID   = flag.Uint("host", exchange.DefaultHostID, "host id to identify as")
		timeout  = flag.Duration("timeout", exchange.DefaultResponseTimeout, "per-request response timeout")
		psk      = flag.String("psk", "", "pre-shared key for encrypted framing")
		verbose  = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	if *hostID > 255 {
		log.Fatalf("Invalid -host value %d: host id must be 0-255", *hostID)
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	if *verbose {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	}

	remote, err := resolveEndpoint(*addr, *discover)
	if err != nil {
		log.Fatalf("Failed to resolve endpoint: %v", err)
	}

	udp, err := transport.NewUDP(transport.UDPConfig{
		RemoteAddr:    remote,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}
	defer udp.Stop()

	var adapter transport.Adapter = udp
	if *psk != "" {
		secure, err := transport.NewSecure(udp, transport.SecureConfig{
			PSK:           []byte(*psk),
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			log.Fatalf("Failed to create secure transport: %v", err)
		}
		adapter = secure
	}

	engine, err := exchange.NewEngine(adapter, exchange.Config{
		HostID:          uint8(*hostID),
		ResponseTimeout: *timeout,
		LoggerFactory:   loggerFactory,
	})
	if err != nil {
		log.Fatalf("Failed to create exchange engine: %v", err)
	}
	defer engine.Close()

	if err := udp.Start(); err != nil {
		log.Fatalf("Failed to start transport: %v", err)
	}

	client, err := sci.NewClient(engine, sci.ClientConfig{LoggerFactory: loggerFactory})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	version, err := client.Version()
	if err != nil {
		log.Fatalf("Version query failed: %v", err)
	}

	fmt.Printf("Controller:  %v\n", remote)
	fmt.Printf("Firmware:    %s\n", version.FirmwareDescription)
	fmt.Printf("Revision:    0x%04x\n", version.FirmwareRevision)
	fmt.Printf("ABI:         %d.%d\n", version.ABIMajor, version.ABIMinor)
}

// resolveEndpoint turns the command-line options into a dialable address,
// browsing the local network when -discover is set.
func resolveEndpoint(addr string, discover bool) (net.Addr, error) {
	if discover {
		resolver, err := discovery.NewResolver(discovery.ResolverConfig{})
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), discovery.DefaultBrowseTimeout)
		defer cancel()

		endpoint, err := resolver.First(ctx)
		if err != nil {
			return nil, err
		}

		udpAddr := endpoint.Addr()
		if udpAddr == nil {
			return nil, fmt.Errorf("endpoint %q resolved without an address", endpoint.Instance)
		}
		fmt.Printf("Discovered:  %s (%s)\n", endpoint.Instance, udpAddr)
		return udpAddr, nil
	}

	if addr == "" {
		flag.Usage()
		os.Exit(2)
	}
	return net.ResolveUDPAddr("udp", addr)
}
