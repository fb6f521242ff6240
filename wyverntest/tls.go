package wyverntest

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// LoopbackTLS generates a self-signed certificate
// valid for localhost and the loopback addresses,
// returning a server config presenting it
// and a client config trusting it.
//
// Ed25519 keys keep generation cheap enough
// to do once per test.
func LoopbackTLS(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	require.NoError(t, err)

	serial, err := crand.Int(crand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(t, err)

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: "wyvern loopback test",
		},

		// Generous enough skew allowance for any test machine.
		NotBefore: now.Add(-time.Minute),
		NotAfter:  now.Add(time.Hour),

		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,

		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(crand.Reader, template, template, pub, priv)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	server = &tls.Config{
		Certificates: []tls.Certificate{
			{
				Certificate: [][]byte{der},
				PrivateKey:  priv,

				Leaf: cert,
			},
		},
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	client = &tls.Config{
		RootCAs: pool,
	}

	return server, client
}
