// Package discovery implements DNS-SD (mDNS) discovery of TISCI
// controller endpoints.
//
// Networked controller proxies advertise themselves as `_tisci._udp`
// services; clients browse for them instead of being configured with a
// static address. The TXT record carries the controller's host id and the
// protocol ABI it speaks.
//
// Discovery is purely a bootstrap facility: once an endpoint is resolved,
// the exchange layer talks to it directly and discovery plays no further
// part.
package discovery

import (
	"fmt"
	"strconv"
)

const (
	// ServiceType is the DNS-SD service type for controller endpoints.
	ServiceType = "_tisci._udp"

	// DefaultDomain is the mDNS domain services register in.
	DefaultDomain = "local."
)

// TXT record keys.
const (
	txtKeyHostID = "host"
	txtKeyABI    = "abi"
)

// TXTRecord is the controller metadata carried in the DNS-SD TXT record.
type TXTRecord struct {
	// HostID is the controller's host identifier.
	HostID uint8

	// ABIMajor and ABIMinor identify the protocol ABI.
	ABIMajor uint8
	ABIMinor uint8
}

// Encode renders the record as DNS-SD TXT strings.
func (r TXTRecord) Encode() []string {
	return []string{
		fmt.Sprintf("%s=%d", txtKeyHostID, r.HostID),
		fmt.Sprintf("%s=%d.%d", txtKeyABI, r.ABIMajor, r.ABIMinor),
	}
}

// DecodeTXT parses controller metadata out of DNS-SD TXT strings.
// Unknown keys are ignored; missing keys leave zero values.
func DecodeTXT(txt []string) TXTRecord {
	var r TXTRecord
	for _, kv := range txt {
		key, value, ok := splitKV(kv)
		if !ok {
			continue
		}
		switch key {
		case txtKeyHostID:
			if v, err := strconv.ParseUint(value, 10, 8); err == nil {
				r.HostID = uint8(v)
			}
		case txtKeyABI:
			var major, minor uint8
			if _, err := fmt.Sscanf(value, "%d.%d", &major, &minor); err == nil {
				r.ABIMajor = major
				r.ABIMinor = minor
			}
		}
	}
	return r
}

func splitKV(s string) (key, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
