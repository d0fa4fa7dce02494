package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"
)

const (
	caCommonName   = "VoiceLink Agent CA"
	certKeyBits    = 2048
	clientCertLife = 365 * 24 * time.Hour
)

// IssuedCertificate bundles the PEM material handed to a device after a
// verified pairing. PrivateKey is empty when the device supplied its own
// public key, in which case the key never leaves the device.
type IssuedCertificate struct {
	CACertificate     string
	ClientCertificate string
	PrivateKey        string
}

// CertificateAuthority issues client certificates binding a device
// identity to the host's trust root. One authority exists per host
// process; its key pair is generated at startup.
type CertificateAuthority struct {
	cert  *x509.Certificate
	key   *rsa.PrivateKey
	caPEM string
}

// NewCertificateAuthority generates a self-signed CA for this host.
func NewCertificateAuthority() (*CertificateAuthority, error) {
	key, err := rsa.GenerateKey(rand.Reader, certKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate CA key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: caCommonName},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create CA certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse CA certificate: %w", err)
	}

	return &CertificateAuthority{
		cert:  cert,
		key:   key,
		caPEM: encodePEM("CERTIFICATE", der),
	}, nil
}

// CACertificatePEM returns the CA certificate in PEM form.
func (ca *CertificateAuthority) CACertificatePEM() string {
	return ca.caPEM
}

// IssueClientCertificate issues a certificate with CN bound to the device
// id. When publicKeyPEM is non-empty the certificate binds that key and
// no private key is returned; otherwise a fresh RSA key pair is generated
// and its private key included in the result.
func (ca *CertificateAuthority) IssueClientCertificate(deviceID, publicKeyPEM string) (*IssuedCertificate, error) {
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}

	var pub any
	var privPEM string
	if publicKeyPEM != "" {
		parsed, err := parsePublicKeyPEM(publicKeyPEM)
		if err != nil {
			return nil, err
		}
		pub = parsed
	} else {
		key, err := rsa.GenerateKey(rand.Reader, certKeyBits)
		if err != nil {
			return nil, fmt.Errorf("generate client key: %w", err)
		}
		pub = &key.PublicKey
		privPEM = encodePEM("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "voicelink-" + deviceID},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(clientCertLife),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, pub, ca.key)
	if err != nil {
		return nil, fmt.Errorf("create client certificate: %w", err)
	}

	return &IssuedCertificate{
		CACertificate:     ca.caPEM,
		ClientCertificate: encodePEM("CERTIFICATE", der),
		PrivateKey:        privPEM,
	}, nil
}

func parsePublicKeyPEM(publicKeyPEM string) (any, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("public key is not valid PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	if rsaPub, ok := pub.(*rsa.PublicKey); ok && rsaPub.N.BitLen() < certKeyBits {
		return nil, fmt.Errorf("RSA key too small: %d bits, minimum %d", rsaPub.N.BitLen(), certKeyBits)
	}
	return pub, nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial, nil
}

func encodePEM(blockType string, der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}))
}
