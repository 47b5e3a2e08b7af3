// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package rand implements functions similar to math/rand in the standard
// library, but on top of a secure random number generator.
package rand

import (
	cryptoRand "crypto/rand"
	"io"
	mathRand "math/rand"
)

// Reader is the standard crypto/rand.Reader, re-exported for convenience
var Reader = cryptoRand.Reader

// randomCharset contains the characters that can make up a rand.String().
const randomCharset = "2345679abcdefghijkmnopqrstuvwxyzACDEFGHJKLMNPQRSTUVWXYZ"

// Digits is the alphabet used for numeric PINs.
const Digits = "0123456789"

var (
	// defaultSecureSource is a concurrency safe math/rand.Source with a
	// cryptographically sound base.
	defaultSecureSource = newSecureSource()

	// defaultSecureRand is a math/rand.Rand based on the secure source.
	defaultSecureRand = mathRand.New(defaultSecureSource)
)

// String returns a strongly random string of characters (taken from
// randomCharset) of the specified length. The returned string contains ~5.8
// bits of entropy per character, due to the character set used.
func String(l int) string {
	return Alphabet(l, randomCharset)
}

// Alphabet returns a strongly random string of the specified length, with
// every character drawn from the given alphabet.
func Alphabet(l int, alphabet string) string {
	bs := make([]byte, l)
	for i := range bs {
		bs[i] = alphabet[defaultSecureRand.Intn(len(alphabet))]
	}
	return string(bs)
}

// Bytes returns a slice of n strongly random bytes. It panics if the
// underlying generator fails, as no amount of retrying will help.
func Bytes(n int) []byte {
	bs := make([]byte, n)
	if _, err := io.ReadFull(defaultSecureSource, bs); err != nil {
		panic("randomness failure: " + err.Error())
	}
	return bs
}

// Int63 returns a strongly random int63.
func Int63() int64 {
	return defaultSecureSource.Int63()
}

// Uint64 returns a strongly random uint64.
func Uint64() uint64 {
	return defaultSecureSource.Uint64()
}

// Intn returns, as an int, a non-negative strongly random number in [0,n).
// It panics if n <= 0.
func Intn(n int) int {
	return defaultSecureRand.Intn(n)
}
