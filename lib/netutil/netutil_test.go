// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package netutil

import (
	"net/netip"
	"testing"
)

func TestMapPort(t *testing.T) {
	if got := MapPort(47989, OffsetHTTPS); got != 47984 {
		t.Errorf("HTTPS port %d != 47984", got)
	}
	if got := MapPort(47989, OffsetHTTP); got != 47989 {
		t.Errorf("HTTP port %d != 47989", got)
	}
	if got := MapPort(47989, OffsetRTSP); got != 48010 {
		t.Errorf("RTSP port %d != 48010", got)
	}
}

func TestNormalizedAddr(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"192.0.2.1", "192.0.2.1"},
		{"::ffff:192.0.2.1", "192.0.2.1"},
		{"2001:db8::1", "2001:db8::1"},
	}
	for _, tc := range cases {
		addr := netip.MustParseAddr(tc.in)
		if got := NormalizedAddr(addr); got != tc.want {
			t.Errorf("NormalizedAddr(%q) = %q, expected %q", tc.in, got, tc.want)
		}
	}
}

func TestURLEscapedAddr(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"192.0.2.1", "192.0.2.1"},
		{"::ffff:192.0.2.1", "192.0.2.1"},
		{"2001:db8::1", "[2001:db8::1]"},
	}
	for _, tc := range cases {
		addr := netip.MustParseAddr(tc.in)
		if got := URLEscapedAddr(addr); got != tc.want {
			t.Errorf("URLEscapedAddr(%q) = %q, expected %q", tc.in, got, tc.want)
		}
	}
}

func TestIsMappedV4(t *testing.T) {
	if !IsMappedV4(netip.MustParseAddr("192.0.2.1")) {
		t.Error("plain IPv4 not recognized")
	}
	if !IsMappedV4(netip.MustParseAddr("::ffff:192.0.2.1")) {
		t.Error("v4-mapped IPv6 not recognized")
	}
	if IsMappedV4(netip.MustParseAddr("2001:db8::1")) {
		t.Error("IPv6 misclassified as v4")
	}
}

func TestEncryptionModeForAddress(t *testing.T) {
	lan, wan := EncryptionOpportunistic, EncryptionMandatory

	for _, in := range []string{"127.0.0.1", "10.1.2.3", "192.168.0.42", "fe80::1", "::1", "::ffff:172.16.0.1"} {
		if got := EncryptionModeForAddress(netip.MustParseAddr(in), lan, wan); got != lan {
			t.Errorf("%s classified as %v, expected LAN mode", in, got)
		}
	}
	for _, in := range []string{"203.0.113.7", "2001:db8::1"} {
		if got := EncryptionModeForAddress(netip.MustParseAddr(in), lan, wan); got != wan {
			t.Errorf("%s classified as %v, expected WAN mode", in, got)
		}
	}
}

func TestMACAddressForUnknown(t *testing.T) {
	if got := MACAddressFor("203.0.113.250"); got != "00:00:00:00:00:00" {
		t.Errorf("expected placeholder MAC, got %q", got)
	}
	if got := MACAddressFor("not an ip"); got != "00:00:00:00:00:00" {
		t.Errorf("expected placeholder MAC, got %q", got)
	}
}
