// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package nvhttp

import (
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/birwin88/apollo/lib/build"
	"github.com/birwin88/apollo/lib/events"
	"github.com/birwin88/apollo/lib/netutil"
	"github.com/birwin88/apollo/lib/pairing"
	"github.com/birwin88/apollo/lib/stream"
)

// Codec support bits, as defined by the GameStream protocol.
const (
	scmH264         = 0x00001
	scmH264High444  = 0x00008
	scmHEVC         = 0x00100
	scmHEVCMain10   = 0x00200
	scmHEVCRExt444  = 0x01000
	scmHEVCRExt1044 = 0x02000
	scmAV1Main8     = 0x10000
	scmAV1Main10    = 0x20000
	scmAV1High444   = 0x40000
	scmAV1High1044  = 0x80000
)

// maxLumaPixelsHEVC is advertised whenever HEVC encoding is available. The
// value is what GeForce Experience reports for 4K-capable hosts.
const maxLumaPixelsHEVC = "1869449984"

const streamLimitMessage = "The host's concurrent stream limit has been reached. Stop an existing stream or increase the 'Channels' value in the Sunshine Web UI."

func (s *Service) serverInfo(w http.ResponseWriter, r *http.Request) {
	peer, isTLS := peerFrom(r)

	pairStatus := 0
	if isTLS {
		l.Debugln("device", peer.Name, "getting server info")
		if r.URL.Query().Has("uniqueid") {
			pairStatus = 1
		}
	}

	local, haveLocal := localAddr(r)

	root := newRoot(200)
	root.add("hostname", s.cfg.Hostname())
	root.add("appversion", build.Version)
	root.add("GfeVersion", build.GfeVersion)
	root.add("uniqueid", s.ldg.UniqueID())
	root.addInt("HttpsPort", s.cfg.HTTPSPort())
	root.addInt("ExternalPort", s.cfg.HTTPPort())
	if s.probe.ActiveHEVCMode() > 1 {
		root.add("MaxLumaPixelsHEVC", maxLumaPixelsHEVC)
	} else {
		root.add("MaxLumaPixelsHEVC", "0")
	}

	// The MAC address goes only to paired clients over TLS. Plaintext
	// requests get a placeholder Moonlight knows to ignore.
	if isTLS && haveLocal {
		root.add("mac", netutil.MACAddressFor(netutil.NormalizedAddr(local)))
		for _, cmd := range s.cfg.ServerCommands {
			root.add("ServerCommand", cmd.Name)
		}
	} else {
		root.add("mac", "00:00:00:00:00:00")
	}

	// Moonlight expects LocalIP to be IPv4 and clobbers its stored LAN
	// address with whatever we return. On a bare IPv6 connection we
	// return the well-known loopback placeholder instead.
	switch {
	case haveLocal && local.Is6() && !netutil.IsMappedV4(local):
		root.add("LocalIP", "127.0.0.1")
	case haveLocal:
		root.add("LocalIP", netutil.NormalizedAddr(local))
	default:
		root.add("LocalIP", "127.0.0.1")
	}

	root.addInt("ServerCodecModeSupport", s.codecModeFlags())
	root.addInt("PairStatus", pairStatus)
	current := s.catalog.Running()
	root.addInt("currentgame", current)
	if current > 0 {
		root.add("state", "SUNSHINE_SERVER_BUSY")
	} else {
		root.add("state", "SUNSHINE_SERVER_FREE")
	}

	writeXML(w, root)
}

func (s *Service) codecModeFlags() int {
	flags := scmH264
	if s.probe.YUV444Supported(stream.CodecH264) {
		flags |= scmH264High444
	}
	hevc := s.probe.ActiveHEVCMode()
	if hevc >= 2 {
		flags |= scmHEVC
		if s.probe.YUV444Supported(stream.CodecHEVC) {
			flags |= scmHEVCRExt444
		}
	}
	if hevc >= 3 {
		flags |= scmHEVCMain10
		if s.probe.YUV444Supported(stream.CodecHEVC) {
			flags |= scmHEVCRExt1044
		}
	}
	av1 := s.probe.ActiveAV1Mode()
	if av1 >= 2 {
		flags |= scmAV1Main8
		if s.probe.YUV444Supported(stream.CodecAV1) {
			flags |= scmAV1High444
		}
	}
	if av1 >= 3 {
		flags |= scmAV1Main10
		if s.probe.YUV444Supported(stream.CodecAV1) {
			flags |= scmAV1High1044
		}
	}
	return flags
}

func (s *Service) pair(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if !s.cfg.EnablePairing {
		root := newRoot(403)
		root.setStatus(403, "Pairing is disabled for this instance")
		writeXML(w, root)
		return
	}

	if !query.Has("uniqueid") {
		root := newRoot(400)
		root.setStatus(400, "Missing uniqueid parameter")
		writeXML(w, root)
		return
	}
	uniqueID := query.Get("uniqueid")

	switch {
	case query.Get("phrase") == "getservercert":
		req := pairing.Phase1Request{
			UniqueID:      uniqueID,
			DeviceName:    query.Get("devicename"),
			Salt:          query.Get("salt"),
			ClientCertHex: query.Get("clientcert"),
			OTPAuth:       query.Get("otpauth"),
			HasOTPAuth:    query.Has("otpauth"),
		}
		res, parked := s.pairMgr.GetServerCert(req)
		if parked != nil {
			// The response completes when the user enters the PIN.
			select {
			case res = <-parked:
			case <-r.Context().Done():
				return
			}
		}
		writePairResult(w, res)

	case query.Get("phrase") == "pairchallenge":
		root := newRoot(200)
		root.addInt("paired", 1)
		writeXML(w, root)

	case query.Has("clientchallenge"):
		writePairResult(w, s.pairMgr.ClientChallenge(uniqueID, query.Get("clientchallenge")))

	case query.Has("serverchallengeresp"):
		writePairResult(w, s.pairMgr.ServerChallengeResp(uniqueID, query.Get("serverchallengeresp")))

	case query.Has("clientpairingsecret"):
		writePairResult(w, s.pairMgr.ClientPairingSecret(uniqueID, query.Get("clientpairingsecret")))

	default:
		root := newRoot(404)
		root.setStatus(404, "Invalid pairing request")
		writeXML(w, root)
	}
}

func writePairResult(w http.ResponseWriter, res pairing.Result) {
	root := newRoot(res.StatusCode)
	if res.StatusMessage != "" {
		root.setAttr("status_message", res.StatusMessage)
	}
	root.addInt("paired", res.Paired)
	if res.PlainCert != "" {
		root.add("plaincert", res.PlainCert)
	}
	if res.ChallengeResponse != "" {
		root.add("challengeresponse", res.ChallengeResponse)
	}
	if res.PairingSecret != "" {
		root.add("pairingsecret", res.PairingSecret)
	}
	writeXML(w, root)
}

func (s *Service) appList(w http.ResponseWriter, r *http.Request) {
	root := newRoot(200)

	hdr := 0
	if s.probe.ActiveHEVCMode() == 3 {
		hdr = 1
	}
	for _, app := range s.catalog.Apps() {
		node := root.child("App")
		node.addInt("IsHdrSupported", hdr)
		node.add("AppTitle", app.Name)
		node.addInt("ID", app.ID)
	}

	writeXML(w, root)
}

func (s *Service) appAsset(w http.ResponseWriter, r *http.Request) {
	appID := atoiDefault(r.URL.Query().Get("appid"), 0)
	path := s.catalog.ImagePath(appID)

	fd, err := os.Open(path)
	if err != nil {
		l.Debugln("no app image for", appID, "at", path)
		writeXML(w, newRoot(404))
		return
	}
	defer fd.Close()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Connection", "close")
	if _, err := io.Copy(w, fd); err != nil {
		l.Debugln("streaming app image:", err)
	}
}

func (s *Service) launch(w http.ResponseWriter, r *http.Request) {
	peer, _ := peerFrom(r)
	query := r.URL.Query()

	if s.streamer.SessionCount() >= s.cfg.Channels {
		root := newRoot(503)
		root.setStatus(503, streamLimitMessage)
		root.addInt("resume", 0)
		writeXML(w, root)
		return
	}

	if !query.Has("rikey") || !query.Has("rikeyid") || !query.Has("localAudioPlayMode") || !query.Has("appid") {
		root := newRoot(400)
		root.setStatus(400, "Missing a required launch parameter")
		root.addInt("resume", 0)
		writeXML(w, root)
		return
	}

	if s.catalog.Running() > 0 {
		root := newRoot(400)
		root.setStatus(400, "An app is already running on this host")
		root.addInt("resume", 0)
		writeXML(w, root)
		return
	}

	hostAudio := atoiDefault(query.Get("localAudioPlayMode"), 0) != 0
	s.mut.Lock()
	s.hostAudio = hostAudio
	s.nextID++
	id := s.nextID
	s.mut.Unlock()

	session, err := stream.NewLaunchSession(id, hostAudio, query, peer.UUID)
	if err != nil {
		l.Debugln("building launch session:", err)
		root := newRoot(400)
		root.setStatus(400, "Missing a required launch parameter")
		root.addInt("resume", 0)
		writeXML(w, root)
		return
	}

	if res := s.checkEncryption(r, session); res != nil {
		writeXML(w, res)
		return
	}

	appID := atoiDefault(query.Get("appid"), 0)
	if appID > 0 {
		app, ok := s.findApp(appID)
		if !ok {
			l.Warnln("Couldn't find app with ID", appID)
			root := newRoot(404)
			root.setStatus(404, "Cannot find requested application")
			root.addInt("gamesession", 0)
			writeXML(w, root)
			return
		}

		if code := s.catalog.Execute(appID, app, session); code != 0 {
			root := newRoot(code)
			if code == 503 {
				root.setStatus(code, "Failed to initialize video capture/encoding. Is a display connected and turned on?")
			} else {
				root.setStatus(code, "Failed to start the specified application")
			}
			root.addInt("gamesession", 0)
			writeXML(w, root)
			return
		}
	}

	root := newRoot(200)
	root.add("sessionUrl0", s.sessionURL(r, session))
	root.addInt("gamesession", 1)
	writeXML(w, root)

	s.streamer.RaiseSession(session)
	s.evLogger.Log(events.SessionLaunched, map[string]interface{}{
		"device": peer.Name,
		"appID":  appID,
	})
}

func (s *Service) resume(w http.ResponseWriter, r *http.Request) {
	peer, _ := peerFrom(r)
	query := r.URL.Query()

	if s.streamer.SessionCount() >= s.cfg.Channels {
		root := newRoot(503)
		root.setStatus(503, streamLimitMessage)
		root.addInt("resume", 0)
		writeXML(w, root)
		return
	}

	if s.catalog.Running() == 0 {
		root := newRoot(503)
		root.setStatus(503, "No running app to resume")
		root.addInt("resume", 0)
		writeXML(w, root)
		return
	}

	if !query.Has("rikey") || !query.Has("rikeyid") {
		root := newRoot(400)
		root.setStatus(400, "Missing a required resume parameter")
		root.addInt("resume", 0)
		writeXML(w, root)
		return
	}

	if s.streamer.SessionCount() == 0 {
		// The GPU topology may have changed since the last stream, so
		// probe again before promising a working encoder.
		if s.probe.ProbeEncoders() {
			root := newRoot(503)
			root.setStatus(503, "Failed to initialize video capture/encoding. Is a display connected and turned on?")
			root.addInt("resume", 0)
			writeXML(w, root)
			return
		}

		if query.Has("localAudioPlayMode") {
			s.mut.Lock()
			s.hostAudio = atoiDefault(query.Get("localAudioPlayMode"), 0) != 0
			s.mut.Unlock()
		}
	}

	s.mut.Lock()
	hostAudio := s.hostAudio
	s.nextID++
	id := s.nextID
	s.mut.Unlock()

	session, err := stream.NewLaunchSession(id, hostAudio, query, peer.UUID)
	if err != nil {
		l.Debugln("building resume session:", err)
		root := newRoot(400)
		root.setStatus(400, "Missing a required resume parameter")
		root.addInt("resume", 0)
		writeXML(w, root)
		return
	}

	if res := s.checkEncryption(r, session); res != nil {
		writeXML(w, res)
		return
	}

	root := newRoot(200)
	root.add("sessionUrl0", s.sessionURL(r, session))
	root.addInt("resume", 1)
	writeXML(w, root)

	s.streamer.RaiseSession(session)
	s.evLogger.Log(events.SessionResumed, map[string]interface{}{
		"device": peer.Name,
	})
}

func (s *Service) cancel(w http.ResponseWriter, r *http.Request) {
	if s.streamer.SessionCount() != 0 {
		root := newRoot(503)
		root.setStatus(503, "All sessions must be disconnected before quitting")
		root.addInt("resume", 0)
		writeXML(w, root)
		return
	}

	root := newRoot(200)
	root.addInt("cancel", 1)
	writeXML(w, root)

	if s.catalog.Running() > 0 {
		s.catalog.Terminate()
	}
	s.evLogger.Log(events.SessionCancelled, nil)
}

// checkEncryption rejects sessions that cannot comply with a mandatory
// encryption requirement for the peer's network. The returned node is nil
// when the session may proceed.
func (s *Service) checkEncryption(r *http.Request, session *stream.LaunchSession) *xmlNode {
	remote, ok := remoteAddr(r)
	if !ok {
		return nil
	}
	mode := netutil.EncryptionModeForAddress(remote, s.cfg.LANEncryption, s.cfg.WANEncryption)
	if session.RTSPCipher == nil && mode == netutil.EncryptionMandatory {
		l.Warnln("Rejecting client that cannot comply with mandatory encryption requirement")
		root := newRoot(403)
		root.setStatus(403, "Encryption is mandatory for this host but unsupported by the client")
		root.addInt("gamesession", 0)
		return root
	}
	return nil
}

// sessionURL is the RTSP endpoint handed back to the client, built from
// our end of the connection so it is reachable from wherever the request
// came.
func (s *Service) sessionURL(r *http.Request, session *stream.LaunchSession) string {
	host := "127.0.0.1"
	if local, ok := localAddr(r); ok {
		host = netutil.URLEscapedAddr(local)
	}
	return session.RTSPURLScheme + host + ":" + strconv.Itoa(s.cfg.RTSPPort())
}

func (s *Service) findApp(appID int) (stream.App, bool) {
	for _, app := range s.catalog.Apps() {
		if app.ID == appID {
			return app, true
		}
	}
	return stream.App{}, false
}

func atoiDefault(str string, def int) int {
	v, err := strconv.Atoi(str)
	if err != nil {
		return def
	}
	return v
}
