// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package pairing implements the four phase handshake that binds a PIN to a
// shared AES key and finally to a trusted client certificate in the ledger.
package pairing

import (
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/birwin88/apollo/lib/crypto"
	"github.com/birwin88/apollo/lib/events"
	"github.com/birwin88/apollo/lib/ledger"
	"github.com/birwin88/apollo/lib/rand"
	"github.com/birwin88/apollo/lib/sync"
)

// A Result is the outcome of one handshake phase, rendered to XML by the
// transport layer.
type Result struct {
	StatusCode        int
	StatusMessage     string
	Paired            int
	PlainCert         string // hex of the server certificate PEM
	ChallengeResponse string // hex ciphertext, phase 2
	PairingSecret     string // hex of server_secret || signature, phase 3
}

func badRequest(msg string) Result {
	return Result{StatusCode: 400, StatusMessage: msg}
}

// session is the per-client handshake state, keyed by the client supplied
// unique ID. Nothing in it is trusted until phase 4 succeeds.
type session struct {
	uniqueID string
	name     string
	certPEM  []byte
	salt     string // hex as supplied by the client

	cipherKey       []byte
	serverSecret    []byte
	serverChallenge []byte
	clientHash      []byte

	// parked carries the phase 1 response once the out-of-band PIN entry
	// arrives. Nil when this session isn't waiting for a PIN.
	parked chan Result
}

// A Manager runs pairing handshakes. One mutex covers the session map and
// the OTP slot; every state transition happens inside it.
type Manager struct {
	serverCertPEM []byte
	serverCert    *x509.Certificate
	serverKey     *rsa.PrivateKey
	ledger        *ledger.Ledger
	evLogger      *events.Logger

	mut      sync.Mutex
	sessions map[string]*session
	order    []string // session creation order, for PIN routing

	otp *otpState
}

func NewManager(serverCertPEM []byte, serverKey *rsa.PrivateKey, ldg *ledger.Ledger, evLogger *events.Logger) (*Manager, error) {
	cert, err := crypto.ParseCertPEM(serverCertPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing server certificate: %w", err)
	}
	return &Manager{
		serverCertPEM: serverCertPEM,
		serverCert:    cert,
		serverKey:     serverKey,
		ledger:        ldg,
		evLogger:      evLogger,
		mut:           sync.NewMutex(),
		sessions:      make(map[string]*session),
	}, nil
}

// A Phase1Request carries the getservercert query parameters.
type Phase1Request struct {
	UniqueID      string
	DeviceName    string
	Salt          string // hex
	ClientCertHex string
	OTPAuth       string
	HasOTPAuth    bool
}

// GetServerCert runs phase 1. When the request carries an otpauth witness
// the result is returned directly. Otherwise the response is parked: the
// returned channel delivers the result once Pin is called out-of-band, and
// the Result return value is meaningless.
func (m *Manager) GetServerCert(req Phase1Request) (Result, <-chan Result) {
	m.mut.Lock()
	defer m.mut.Unlock()

	name := req.DeviceName
	if name == "roth" {
		name = "Legacy Moonlight Client"
	}

	certPEM, err := hex.DecodeString(req.ClientCertHex)
	if err != nil {
		return badRequest("Invalid clientcert parameter"), nil
	}

	sess, ok := m.sessions[req.UniqueID]
	if !ok {
		sess = &session{uniqueID: req.UniqueID}
		m.sessions[req.UniqueID] = sess
		m.order = append(m.order, req.UniqueID)
	}
	sess.name = name
	sess.certPEM = certPEM
	sess.salt = req.Salt

	if req.HasOTPAuth {
		return m.otpServerCertLocked(sess, req.OTPAuth), nil
	}

	dl.Debugln("parking getservercert response for", req.UniqueID)
	sess.parked = make(chan Result, 1)
	m.evLogger.Log(events.PINRequired, map[string]string{
		"uniqueID": req.UniqueID,
		"name":     name,
	})
	return Result{}, sess.parked
}

// otpServerCertLocked consumes the OTP slot if the witness hash matches a
// live OTP. On any failure the reply is computed from a fresh random "PIN"
// so an observer cannot tell a miss from a hit; the impostor then fails in
// phase 4.
func (m *Manager) otpServerCertLocked(sess *session, witness string) Result {
	if m.otp != nil && m.otp.expired() {
		m.otp = nil
	}
	if m.otp != nil {
		hash := hex.EncodeToString(crypto.Hash([]byte(m.otp.pin + sess.salt + m.otp.passphrase)))
		if subtle.ConstantTimeCompare([]byte(hash), []byte(witness)) == 1 {
			otp := m.otp
			m.otp = nil
			if otp.deviceName != "" {
				sess.name = otp.deviceName
			}
			dl.Debugln("OTP accepted for", sess.uniqueID)
			return m.serverCertLocked(sess, otp.pin)
		}
	}
	return m.serverCertLocked(sess, string(rand.Bytes(16)))
}

// serverCertLocked derives the session cipher key from the salt and PIN and
// produces the phase 1 success response.
func (m *Manager) serverCertLocked(sess *session, pin string) Result {
	if len(sess.salt) < 32 {
		return badRequest("Salt too short")
	}
	salt, err := hex.DecodeString(sess.salt[:32])
	if err != nil {
		return badRequest("Invalid salt parameter")
	}

	sess.cipherKey = crypto.KeyFromPIN(salt, pin)

	return Result{
		StatusCode: 200,
		Paired:     1,
		PlainCert:  hex.EncodeToString(m.serverCertPEM),
	}
}

// Pin completes the oldest parked phase 1 response with the given PIN,
// optionally renaming the client. It returns false when no session is
// waiting or the PIN is not exactly four digits.
func (m *Manager) Pin(pin, name string) bool {
	m.mut.Lock()
	defer m.mut.Unlock()

	if len(pin) != 4 {
		dl.Infoln("PIN must be 4 digits,", len(pin), "provided")
		return false
	}
	if strings.Trim(pin, "0123456789") != "" {
		dl.Infoln("PIN must be numeric")
		return false
	}

	for _, id := range m.order {
		sess, ok := m.sessions[id]
		if !ok || sess.parked == nil {
			continue
		}
		if name != "" {
			sess.name = name
		}
		res := m.serverCertLocked(sess, pin)
		sess.parked <- res
		sess.parked = nil
		return true
	}
	return false
}

// ClientChallenge runs phase 2: decrypt the challenge, bind it to the
// server certificate signature and a fresh server secret, and return the
// encrypted hash plus a server challenge for phase 4.
func (m *Manager) ClientChallenge(uniqueID, challengeHex string) Result {
	m.mut.Lock()
	defer m.mut.Unlock()

	sess, ok := m.sessions[uniqueID]
	if !ok || sess.cipherKey == nil {
		return badRequest("No pairing session in progress")
	}

	challenge, err := hex.DecodeString(challengeHex)
	if err != nil {
		return badRequest("Invalid clientchallenge parameter")
	}
	decrypted, err := crypto.DecryptECB(sess.cipherKey, challenge)
	if err != nil {
		return badRequest("Invalid clientchallenge parameter")
	}

	serverSecret := rand.Bytes(16)
	serverChallenge := rand.Bytes(16)

	hash := crypto.Hash(decrypted, crypto.CertSignature(m.serverCert), serverSecret)

	encrypted, err := crypto.EncryptECB(sess.cipherKey, append(hash, serverChallenge...))
	if err != nil {
		return badRequest("Invalid clientchallenge parameter")
	}

	sess.serverSecret = serverSecret
	sess.serverChallenge = serverChallenge

	return Result{
		StatusCode:        200,
		Paired:            1,
		ChallengeResponse: hex.EncodeToString(encrypted),
	}
}

// ServerChallengeResp runs phase 3: store the client's challenge hash and
// reveal the server secret together with an RSA signature over it.
func (m *Manager) ServerChallengeResp(uniqueID, respHex string) Result {
	m.mut.Lock()
	defer m.mut.Unlock()

	sess, ok := m.sessions[uniqueID]
	if !ok || sess.cipherKey == nil {
		return badRequest("No pairing session in progress")
	}

	encrypted, err := hex.DecodeString(respHex)
	if err != nil {
		return badRequest("Invalid serverchallengeresp parameter")
	}
	decrypted, err := crypto.DecryptECB(sess.cipherKey, encrypted)
	if err != nil {
		return badRequest("Invalid serverchallengeresp parameter")
	}

	sess.clientHash = decrypted

	sig, err := crypto.SignSHA256(m.serverKey, sess.serverSecret)
	if err != nil {
		return Result{StatusCode: 400, StatusMessage: "Signing failure"}
	}

	return Result{
		StatusCode:    200,
		Paired:        1,
		PairingSecret: hex.EncodeToString(append(append([]byte{}, sess.serverSecret...), sig...)),
	}
}

// ClientPairingSecret runs phase 4. Pairing succeeds only if the client's
// hash binds our server challenge to its certificate and the secret
// verifies against the certificate's public key. The session is removed on
// both outcomes.
func (m *Manager) ClientPairingSecret(uniqueID, secretHex string) Result {
	m.mut.Lock()
	defer m.mut.Unlock()

	sess, ok := m.sessions[uniqueID]
	if !ok || sess.cipherKey == nil {
		return badRequest("No pairing session in progress")
	}

	pairingSecret, err := hex.DecodeString(secretHex)
	if err != nil {
		return badRequest("Invalid clientpairingsecret parameter")
	}
	if len(pairingSecret) <= 16 {
		return badRequest("Clientpairingsecret too short")
	}

	secret := pairingSecret[:16]
	sign := pairingSecret[16:]

	m.removeSessionLocked(uniqueID)

	clientCert, err := crypto.ParseCertPEM(sess.certPEM)
	if err != nil {
		dl.Infoln("pairing failed for", uniqueID, "- unparseable client certificate:", err)
		return Result{StatusCode: 200, Paired: 0}
	}

	expected := crypto.Hash(sess.serverChallenge, crypto.CertSignature(clientCert), secret)
	hashOK := subtle.ConstantTimeCompare(expected, sess.clientHash) == 1
	sigOK := crypto.VerifySHA256(clientCert, secret, sign)

	if !hashOK || !sigOK {
		dl.Infoln("pairing failed for", uniqueID)
		return Result{StatusCode: 200, Paired: 0}
	}

	nc := ledger.NamedCert{
		Name:    normalizeName(sess.name),
		CertPEM: string(sess.certPEM),
		UUID:    uuid.NewString(),
	}
	if err := m.ledger.AddAuthorizedClient(nc); err != nil {
		dl.Warnln("persisting paired client:", err)
	}
	m.evLogger.Log(events.DevicePaired, map[string]string{
		"name": nc.Name,
		"uuid": nc.UUID,
	})

	return Result{StatusCode: 200, Paired: 1}
}

// HasSession reports whether a handshake is in progress for the unique ID.
func (m *Manager) HasSession(uniqueID string) bool {
	m.mut.Lock()
	defer m.mut.Unlock()
	_, ok := m.sessions[uniqueID]
	return ok
}

func (m *Manager) removeSessionLocked(uniqueID string) {
	delete(m.sessions, uniqueID)
	for i, id := range m.order {
		if id == uniqueID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// normalizeName rewrites parentheses to square brackets so the ledger's
// collision suffixes stay unambiguous.
func normalizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '(':
			return '['
		case ')':
			return ']'
		}
		return r
	}, name)
}
