package anvisa

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
)

// Signer produces the detached signature that accompanies a report payload.
// ANVISA requires submissions to be signed with the pharmacy's ICP-Brasil
// certificate.
type Signer interface {
	Sign(payload []byte) (string, error)
}

// CertSigner signs payloads with an RSA private key loaded from a PEM
// certificate pair.
type CertSigner struct {
	key *rsa.PrivateKey
}

// NewCertSigner loads the certificate and key files and returns a signer.
func NewCertSigner(certFile, keyFile string) (*CertSigner, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate pair: %w", err)
	}

	key, ok := pair.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("certificate key is %T, expected RSA", pair.PrivateKey)
	}

	if len(pair.Certificate) > 0 {
		if _, err := x509.ParseCertificate(pair.Certificate[0]); err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
	}

	return &CertSigner{key: key}, nil
}

// Sign returns the hex-encoded PKCS#1 v1.5 SHA-256 signature of the payload.
func (s *CertSigner) Sign(payload []byte) (string, error) {
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(nil, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// NoopSigner returns an empty signature. Used in development mode where no
// pharmacy certificate is configured.
type NoopSigner struct{}

func (NoopSigner) Sign(_ []byte) (string, error) {
	return "", nil
}
