package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"code.superseriousbusiness.org/httpsig"
)

var signedHeaders = []string{"(request-target)", "host", "date", "digest"}

// SignRequest signs an outgoing HTTP request and sets its Digest header from body.
// keyId format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signedHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, body)
}

// VerifyRequest verifies the HTTP signature on an incoming request
// and returns the actor URI named by the keyId
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	return KeyOwner(verifier.KeyId()), nil
}

// SignatureKeyId reads the keyId of a signed request without verifying it
func SignatureKeyId(req *http.Request) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to read signature: %w", err)
	}
	return verifier.KeyId(), nil
}

// VerifyDigest checks the SHA-256 Digest header against body
func VerifyDigest(req *http.Request, body []byte) error {
	sum := sha256.Sum256(body)
	want := "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
	if got := req.Header.Get("Digest"); got != want {
		return fmt.Errorf("digest mismatch")
	}
	return nil
}

// KeyId returns the key id advertised for an actor URI
func KeyId(actorURI string) string {
	return actorURI + "#main-key"
}

// KeyOwner strips the fragment from a keyId
func KeyOwner(keyId string) string {
	return strings.Split(keyId, "#")[0]
}

// ParsePublicKey converts a PKIX or PKCS1 PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if pubKey, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPubKey, ok := pubKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key")
		}
		return rsaPubKey, nil
	}

	rsaPubKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return rsaPubKey, nil
}
