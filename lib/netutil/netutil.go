// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package netutil implements address and port helpers for the control
// listeners.
package netutil

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Port offsets relative to the configured base port. The defaults with a
// base port of 47989 are 47984 for TLS, 47989 for plaintext and 48010 for
// RTSP setup.
const (
	OffsetHTTPS = -5
	OffsetHTTP  = 0
	OffsetRTSP  = 21
)

// MapPort returns the concrete port for the given offset from the base
// port.
func MapPort(basePort, offset int) int {
	return basePort + offset
}

// An EncryptionMode says whether stream encryption is offered or required
// for connections from a given address.
type EncryptionMode int

const (
	EncryptionNever EncryptionMode = iota
	EncryptionOpportunistic
	EncryptionMandatory
)

func (m EncryptionMode) String() string {
	switch m {
	case EncryptionNever:
		return "never"
	case EncryptionOpportunistic:
		return "opportunistic"
	case EncryptionMandatory:
		return "mandatory"
	default:
		return "unknown"
	}
}

func (m EncryptionMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *EncryptionMode) UnmarshalText(bs []byte) error {
	switch string(bs) {
	case "never":
		*m = EncryptionNever
	case "opportunistic", "":
		*m = EncryptionOpportunistic
	case "mandatory":
		*m = EncryptionMandatory
	default:
		return fmt.Errorf("unknown encryption mode %q", string(bs))
	}
	return nil
}

// NormalizedAddr renders the address with IPv4-mapped IPv6 collapsed to
// plain IPv4, without a zone or port.
func NormalizedAddr(addr netip.Addr) string {
	return addr.Unmap().WithZone("").String()
}

// URLEscapedAddr renders the address for embedding in a URL authority,
// bracketing IPv6 literals.
func URLEscapedAddr(addr netip.Addr) string {
	addr = addr.Unmap().WithZone("")
	if addr.Is6() {
		return "[" + addr.String() + "]"
	}
	return addr.String()
}

// IsMappedV4 reports whether the address is IPv4 or IPv4-mapped IPv6.
func IsMappedV4(addr netip.Addr) bool {
	return addr.Unmap().Is4()
}

// EncryptionModeForAddress picks the LAN or WAN encryption mode based on
// whether the peer address is link-local, loopback or RFC 1918/4193
// private space.
func EncryptionModeForAddress(addr netip.Addr, lan, wan EncryptionMode) EncryptionMode {
	a := addr.Unmap()
	if a.IsLoopback() || a.IsLinkLocalUnicast() || a.IsPrivate() {
		return lan
	}
	return wan
}

// MACAddressFor returns the hardware address of the interface carrying the
// given local address, or the placeholder all-zeroes MAC when it cannot be
// determined. Moonlight clients know to ignore the placeholder.
func MACAddressFor(localAddr string) string {
	target := net.ParseIP(localAddr)
	if target == nil {
		return "00:00:00:00:00:00"
	}

	intfs, err := net.Interfaces()
	if err != nil {
		return "00:00:00:00:00:00"
	}
	for _, intf := range intfs {
		addrs, err := intf.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ipnet.IP.Equal(target) && len(intf.HardwareAddr) > 0 {
				return intf.HardwareAddr.String()
			}
		}
	}
	return "00:00:00:00:00:00"
}

// ListenAddr joins an optional bind host with a port number.
func ListenAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
