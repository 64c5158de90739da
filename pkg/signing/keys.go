package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// LoadPrivateKey reads an RSA private key from a PEM file. Traditional
// OpenSSL PKCS#1 blocks (optionally passphrase-encrypted with DEK-Info
// headers) and unencrypted PKCS#8 blocks are accepted.
func LoadPrivateKey(path, passphrase string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signing: read private key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("signing: %s contains no PEM block", path)
	}

	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // legacy OpenSSL format is the deployed key format
		if passphrase == "" {
			return nil, fmt.Errorf("signing: private key is encrypted but KEY_PASSPHRASE is empty")
		}
		der, err = x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("signing: decrypt private key: %w", err)
		}
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("signing: parse PKCS#1 key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("signing: parse PKCS#8 key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing: %s is not an RSA key", path)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("signing: unsupported PEM type %q", block.Type)
	}
}

// LoadPublicKey reads an RSA public key from a PEM file
// (SubjectPublicKeyInfo or PKCS#1).
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signing: read public key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("signing: %s contains no PEM block", path)
	}

	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signing: parse public key: %w", err)
		}
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("signing: %s is not an RSA public key", path)
		}
		return pub, nil
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signing: parse PKCS#1 public key: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("signing: unsupported PEM type %q", block.Type)
	}
}

// GenerateKeyPair writes a fresh RSA-2048 key pair to privPath and
// pubPath in PEM form. When passphrase is non-empty the private key is
// encrypted with AES-256-CBC in the traditional OpenSSL format.
func GenerateKeyPair(privPath, pubPath, passphrase string) error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("signing: generate key: %w", err)
	}

	privBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	if passphrase != "" {
		privBlock, err = x509.EncryptPEMBlock(rand.Reader, privBlock.Type, privBlock.Bytes, []byte(passphrase), x509.PEMCipherAES256) //nolint:staticcheck
		if err != nil {
			return fmt.Errorf("signing: encrypt private key: %w", err)
		}
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("signing: marshal public key: %w", err)
	}
	pubBlock := &pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}

	if dir := filepath.Dir(privPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("signing: create key dir: %w", err)
		}
	}
	if err := os.WriteFile(privPath, pem.EncodeToMemory(privBlock), 0o600); err != nil {
		return fmt.Errorf("signing: write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(pubBlock), 0o644); err != nil {
		return fmt.Errorf("signing: write public key: %w", err)
	}
	return nil
}
