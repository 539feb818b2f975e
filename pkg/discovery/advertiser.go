package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MDNSServer is the interface for an active mDNS service registration.
// This allows for dependency injection in tests.
type MDNSServer interface {
	// Shutdown stops the server.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	// Register creates a new mDNS server for the given service.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production implementation using
// grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// Instance is the DNS-SD instance name. Required.
	Instance string

	// Port is the UDP port the controller endpoint listens on.
	Port int

	// TXT is the controller metadata to advertise.
	TXT TXTRecord

	// Interfaces specifies which network interfaces to advertise on.
	// If nil, all multicast interfaces are used.
	Interfaces []net.Interface

	// ServerFactory is the factory for creating mDNS servers.
	// If nil, the default zeroconf factory is used.
	ServerFactory MDNSServerFactory

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Advertiser announces a controller endpoint via DNS-SD.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu     sync.Mutex
	server MDNSServer
}

// NewAdvertiser creates an Advertiser with the given configuration.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.Instance == "" {
		return nil, ErrNoInstance
	}

	a := &Advertiser{
		config:  config,
		factory: config.ServerFactory,
	}
	if a.factory == nil {
		a.factory = zeroconfServerFactory{}
	}
	if a.config.Port == 0 {
		return nil, fmt.Errorf("%w: port not set", ErrBadConfig)
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}

	return a, nil
}

// Start registers the service. It is an error to start an advertiser that
// is already running.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return ErrAlreadyAdvertising
	}

	server, err := a.factory.Register(
		a.config.Instance,
		ServiceType,
		DefaultDomain,
		a.config.Port,
		a.config.TXT.Encode(),
		a.config.Interfaces,
	)
	if err != nil {
		return err
	}
	a.server = server

	if a.log != nil {
		a.log.Infof("advertising %s.%s on port %d", a.config.Instance, ServiceType, a.config.Port)
	}
	return nil
}

// Stop withdraws the service registration.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		if a.log != nil {
			a.log.Infof("stopped advertising %s", a.config.Instance)
		}
	}
}
