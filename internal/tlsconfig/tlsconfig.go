// SPDX-License-Identifier: AGPL-3.0-only

// Package tlsconfig loads the optional TLS certificate used to wrap
// the TCP transport (A3), the "TLS certificate loader" external
// collaborator spec.md's PURPOSE section names without specifying.
package tlsconfig

import (
	"crypto/tls"

	"github.com/amr8t/gelfgate/internal/ierror"
)

// Load reads a PEM certificate chain and private key from disk and
// builds a *tls.Config for the TCP listener. Both paths must be
// non-empty; callers decide whether TLS is enabled before calling
// Load.
func Load(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, ierror.Wrap(err, "failed to load TLS certificate from %s / %s", certPath, keyPath)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
