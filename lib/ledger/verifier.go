// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package ledger

import (
	"crypto/x509"
	"errors"

	"github.com/birwin88/apollo/lib/crypto"
	"github.com/birwin88/apollo/lib/sync"
)

var ErrNotTrusted = errors.New("certificate is not in the ledger")

// A Verifier maps TLS peer certificates to their ledger entries. Matching
// is by exact DER equality, which sidesteps PEM formatting differences
// between what the client sent at pairing time and what it presents in the
// handshake.
type Verifier struct {
	mut   sync.Mutex
	certs map[string]NamedCert
}

func NewVerifier() *Verifier {
	return &Verifier{
		mut:   sync.NewMutex(),
		certs: make(map[string]NamedCert),
	}
}

// Add parses the entry's certificate and inserts it.
func (v *Verifier) Add(nc NamedCert) error {
	cert, err := crypto.ParseCertPEM([]byte(nc.CertPEM))
	if err != nil {
		return err
	}
	v.mut.Lock()
	v.certs[string(cert.Raw)] = nc
	v.mut.Unlock()
	return nil
}

// Clear empties the verifier.
func (v *Verifier) Clear() {
	v.mut.Lock()
	v.certs = make(map[string]NamedCert)
	v.mut.Unlock()
}

// Verify returns the ledger entry matching the peer certificate, or
// ErrNotTrusted.
func (v *Verifier) Verify(peer *x509.Certificate) (NamedCert, error) {
	v.mut.Lock()
	defer v.mut.Unlock()
	if nc, ok := v.certs[string(peer.Raw)]; ok {
		return nc, nil
	}
	return NamedCert{}, ErrNotTrusted
}
