// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package crypto implements the primitives used by the pairing handshake:
// AES-128 in ECB and GCM modes, SHA-256 digests, and RSA signatures over
// X.509 material.
package crypto

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	ErrNotBlockAligned = errors.New("data is not a multiple of the block size")
	ErrNoPEMBlock      = errors.New("no PEM block found")
)

// KeyFromPIN derives the AES-128 pairing key from the session salt and the
// PIN, as SHA-256(salt || pin) truncated to 16 bytes.
func KeyFromPIN(salt []byte, pin string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(pin))
	return h.Sum(nil)[:16]
}

// EncryptECB encrypts plaintext with AES in ECB mode. No padding is applied;
// the plaintext must be a multiple of the block size.
func EncryptECB(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(plaintext)%block.BlockSize() != 0 {
		return nil, ErrNotBlockAligned
	}
	ciphertext := make([]byte, len(plaintext))
	for i := 0; i < len(plaintext); i += block.BlockSize() {
		block.Encrypt(ciphertext[i:], plaintext[i:])
	}
	return ciphertext, nil
}

// DecryptECB decrypts ciphertext with AES in ECB mode. No padding is
// removed; the ciphertext must be a multiple of the block size.
func DecryptECB(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, ErrNotBlockAligned
	}
	plaintext := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += block.BlockSize() {
		block.Decrypt(plaintext[i:], ciphertext[i:])
	}
	return plaintext, nil
}

// NewGCM returns an AES-GCM AEAD for the given key, used by the stream
// session transport.
func NewGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Hash returns the SHA-256 digest of the concatenation of the given byte
// slices.
func Hash(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// SignSHA256 signs the SHA-256 digest of message with the server's RSA key
// using PKCS #1 v1.5.
func SignSHA256(key *rsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return rsa.SignPKCS1v15(nil, key, crypto.SHA256, digest[:])
}

// VerifySHA256 verifies a PKCS #1 v1.5 signature over the SHA-256 digest of
// message against the public key in cert. A mismatch is a false return, not
// an error.
func VerifySHA256(cert *x509.Certificate, message, signature []byte) bool {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return false
	}
	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature) == nil
}

// CertSignature returns the raw signature bitstring of the certificate,
// used as a binding value in the pairing hash.
func CertSignature(cert *x509.Certificate) []byte {
	return cert.Signature
}

// ParseCertPEM parses the first CERTIFICATE block in the given PEM data.
func ParseCertPEM(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNoPEMBlock
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
	}
}

// ParseKeyPEM parses an RSA private key in PKCS #1 or PKCS #8 form from the
// given PEM data.
func ParseKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEMBlock
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return rsaKey, nil
}
