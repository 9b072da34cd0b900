// Package sign implements the external signing contract spec.md treats as
// an opaque collaborator: RSA PKCS#1 v1.5 over SHA-256 of the canonical
// payload, public key transmitted as PEM alongside each audit. There is no
// third-party RSA library in the retrieval pack's dependency surface, and
// crypto/rsa plus crypto/x509/encoding/pem is the only idiomatic way to
// speak PKCS#1 v1.5 in Go, so this package is stdlib-only by design (see
// DESIGN.md).
package sign

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
)

// Verify reports whether signatureB64 is a valid RSA PKCS#1 v1.5 / SHA-256
// signature over payload, produced by the private half of pubKeyPEM. Any
// malformed input is treated as a verification failure, never an error the
// caller must special-case: the contract is a pure bool predicate.
func Verify(payload string, signatureB64 string, pubKeyPEM string) bool {
	pub, err := parsePublicKey(pubKeyPEM)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(payload))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}

// Sign produces a base64 PKCS#1 v1.5 / SHA-256 signature over payload
// using priv. It exists for cmd/auditclient and tests; the replicated
// core never signs, only verifies.
func Sign(priv *rsa.PrivateKey, payload string) (string, error) {
	digest := sha256.Sum256([]byte(payload))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// EncodePublicKeyPEM renders pub as a PEM-encoded PKIX public key, the
// format audits carry their signer's key in.
func EncodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func parsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("sign: no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("sign: not an RSA public key")
	}
	return pub, nil
}
