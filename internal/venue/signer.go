package venue

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"
)

// RSAPSSSigner implements Signer using RSA-PSS over (timestamp, method,
// path), the auth scheme of §4.2's venue API key model.
type RSAPSSSigner struct {
	apiKeyID   string
	privateKey *rsa.PrivateKey
}

// LoadRSAPSSSigner reads a PEM-encoded private key (PKCS8 or PKCS1) from
// keyPath and pairs it with apiKeyID.
func LoadRSAPSSSigner(apiKeyID, keyPath string) (*RSAPSSSigner, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("venue: reading private key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("venue: no PEM block found in %s", keyPath)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("venue: private key is not RSA")
		}
		return &RSAPSSSigner{apiKeyID: apiKeyID, privateKey: rsaKey}, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("venue: parsing private key (tried PKCS8 and PKCS1): %w", err)
	}
	return &RSAPSSSigner{apiKeyID: apiKeyID, privateKey: rsaKey}, nil
}

// Sign implements Signer: KEY/TIMESTAMP/SIGNATURE headers over
// timestamp+method+path signed with RSA-PSS/SHA256.
func (s *RSAPSSSigner) Sign(method, path string) (map[string]string, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	message := ts + method + path
	hash := sha256.Sum256([]byte(message))

	sig, err := rsa.SignPSS(rand.Reader, s.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("venue: signing: %w", err)
	}

	return map[string]string{
		"VENUE-ACCESS-KEY":       s.apiKeyID,
		"VENUE-ACCESS-TIMESTAMP": ts,
		"VENUE-ACCESS-SIGNATURE": base64.StdEncoding.EncodeToString(sig),
	}, nil
}
