// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command apollo runs the GameStream host: the control endpoints Moonlight
// clients discover, pair with and launch sessions against.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/thejerf/suture/v4"

	"github.com/birwin88/apollo/lib/build"
	"github.com/birwin88/apollo/lib/config"
	"github.com/birwin88/apollo/lib/crypto"
	"github.com/birwin88/apollo/lib/events"
	"github.com/birwin88/apollo/lib/ledger"
	"github.com/birwin88/apollo/lib/logger"
	"github.com/birwin88/apollo/lib/nvhttp"
	"github.com/birwin88/apollo/lib/pairing"
	"github.com/birwin88/apollo/lib/stream"
	"github.com/birwin88/apollo/lib/svcutil"
	"github.com/birwin88/apollo/lib/tlsutil"
)

var l = logger.DefaultLogger.NewFacility("main", "Startup and supervision")

type cli struct {
	Home       string `help:"Directory for certificates and pairing state" env:"APOLLO_HOME"`
	Config     string `help:"Path to the configuration file" env:"APOLLO_CONFIG"`
	FreshState bool   `help:"Run without loading or persisting pairing state" env:"APOLLO_FRESH_STATE"`
	PinStdin   bool   `help:"Read pairing PINs from standard input"`
	Version    bool   `help:"Print version and exit"`
}

func main() {
	var params cli
	kong.Parse(&params)

	if params.Version {
		fmt.Println(build.LongVersion)
		return
	}

	if err := run(params); err != nil {
		l.Warnln("Exiting:", err)
		os.Exit(svcutil.ExitError.AsInt())
	}
}

func run(params cli) error {
	home, err := homeDir(params.Home)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return err
	}

	configPath := params.Config
	if configPath == "" {
		configPath = filepath.Join(home, "apollo.yaml")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	certFile := cfg.CertFile
	if certFile == "" {
		certFile = filepath.Join(home, "cert.pem")
	}
	keyFile := cfg.KeyFile
	if keyFile == "" {
		keyFile = filepath.Join(home, "key.pem")
	}
	cert, err := tlsutil.LoadOrGenerate(certFile, keyFile, cfg.Hostname(), 2048)
	if err != nil {
		return fmt.Errorf("loading server certificate: %w", err)
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return err
	}
	serverKey, err := crypto.ParseKeyPEM(keyPEM)
	if err != nil {
		return fmt.Errorf("parsing server key: %w", err)
	}

	statePath := cfg.StateFile
	if statePath == "" {
		statePath = filepath.Join(home, "state.json")
	}
	ldg := ledger.New(statePath, params.FreshState)
	if err := ldg.Load(); err != nil {
		return fmt.Errorf("loading pairing state: %w", err)
	}

	evLogger := events.NewLogger()
	evLogger.Log(events.Starting, map[string]string{"home": home})

	pairMgr, err := pairing.NewManager(certPEM, serverKey, ldg, evLogger)
	if err != nil {
		return err
	}

	catalog := stream.NewMemCatalog(cfg.Apps)
	broker := stream.NewBroker()
	probe := &stream.StaticProbe{HEVCMode: 2}

	svc := nvhttp.New(cfg, cert, ldg, pairMgr, catalog, broker, probe, evLogger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go logPairingEvents(ctx, evLogger)
	if params.PinStdin {
		go pinFromStdin(svc)
	}

	sup := suture.New("main", svcutil.SpecWithInfoLogger(l))
	sup.Add(svc)

	l.Infoln(build.LongVersion, "serving", cfg.Hostname())
	err = sup.Serve(ctx)
	if err == context.Canceled {
		err = nil
	}
	return err
}

func homeDir(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "apollo"), nil
}

// logPairingEvents surfaces the interactive moments: a client waiting for
// a PIN, and pairing outcomes.
func logPairingEvents(ctx context.Context, evLogger *events.Logger) {
	sub := evLogger.Subscribe(events.PINRequired | events.OTPIssued | events.DevicePaired | events.DeviceUnpaired)
	defer evLogger.Unsubscribe(sub)

	for {
		select {
		case ev := <-sub.C():
			switch ev.Type {
			case events.PINRequired:
				l.Infoln("Client requests pairing; enter the PIN to continue")
			case events.OTPIssued:
				l.Infoln("One-time PIN issued")
			case events.DevicePaired:
				l.Infoln("Device paired:", ev.Data)
			case events.DeviceUnpaired:
				l.Infoln("Device unpaired:", ev.Data)
			}
		case <-ctx.Done():
			return
		}
	}
}

// pinFromStdin feeds "<pin> [name]" lines to waiting pairing sessions.
func pinFromStdin(svc *nvhttp.Service) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		pin := fields[0]
		name := strings.Join(fields[1:], " ")
		if !svc.Pin(pin, name) {
			l.Infoln("PIN rejected; it must be four digits with a pairing in progress")
		}
	}
}
