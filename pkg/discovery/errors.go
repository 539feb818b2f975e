package discovery

import "errors"

// Errors returned by the discovery package.
var (
	// ErrNoInstance is returned when an advertiser is configured without
	// an instance name.
	ErrNoInstance = errors.New("discovery: no instance name configured")

	// ErrBadConfig is returned for other invalid advertiser configuration.
	ErrBadConfig = errors.New("discovery: invalid configuration")

	// ErrAlreadyAdvertising is returned when Start is called on a running
	// advertiser.
	ErrAlreadyAdvertising = errors.New("discovery: already advertising")

	// ErrNotFound is returned when no controller endpoint was discovered.
	ErrNotFound = errors.New("discovery: no controller endpoint found")
)
