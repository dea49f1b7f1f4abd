package http

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
)

var ErrCertificateMismatch = errors.New("http: server certificate does not match the pinned certificate")

// loadKeyPair reads a PEM file holding a certificate chain and its key.
func loadKeyPair(path string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("http: reading certificate: %w", err)
	}
	cert, err := tls.X509KeyPair(data, data)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("http: loading certificate %s: %w", path, err)
	}
	return cert, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return x509.SystemCertPool()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("http: reading CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("http: no certificates in CA file %s", path)
	}
	return pool, nil
}

// serverTLSConfig builds the listener configuration. With peer verification
// the protocol is capped at TLS 1.2 so a rejected client certificate fails
// the client's own handshake.
func serverTLSConfig(options *Options) (*tls.Config, error) {
	certPath, _ := options.Get("ssl_certificate")
	if certPath == "" {
		return nil, errors.New("http: TLS port configured without ssl_certificate")
	}

	cert, err := loadKeyPair(certPath)
	if err != nil {
		return nil, err
	}

	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if options.boolean("ssl_verify_peer") {
		caPath, _ := options.Get("ssl_ca_file")
		pool, err := loadCertPool(caPath)
		if err != nil {
			return nil, err
		}
		config.ClientAuth = tls.RequireAndVerifyClientCert
		config.ClientCAs = pool
		config.MaxVersion = tls.VersionTLS12
	}

	return config, nil
}

// clientTLSConfig builds the dialer configuration. Without a pinned server
// certificate the server is not verified.
func clientTLSConfig(opts ClientOptions) (*tls.Config, error) {
	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
	}
	if net.ParseIP(opts.Host) == nil {
		config.ServerName = opts.Host
	}

	if opts.ClientCert != "" {
		cert, err := loadKeyPair(opts.ClientCert)
		if err != nil {
			return nil, err
		}
		config.Certificates = []tls.Certificate{cert}
	}

	if opts.ServerCert != "" {
		pinned, err := readCertificates(opts.ServerCert)
		if err != nil {
			return nil, err
		}
		config.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return ErrCertificateMismatch
			}
			for _, der := range pinned {
				if bytes.Equal(der, rawCerts[0]) {
					return nil
				}
			}
			return ErrCertificateMismatch
		}
	}

	return config, nil
}

// readCertificates returns the DER bytes of every certificate in a PEM file.
func readCertificates(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("http: reading server certificate: %w", err)
	}

	var certs [][]byte
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			certs = append(certs, block.Bytes)
		}
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("http: no certificates in %s", path)
	}
	return certs, nil
}
