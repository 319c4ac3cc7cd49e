package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const sealNonceSize = 12

var sealInfo = []byte("eloc audit archive v1")

// ErrSealedDataInvalid is returned when sealed data is truncated or fails authentication.
var ErrSealedDataInvalid = errors.New("sealed data is invalid")

// Seal encrypts data to the holder of the P-256 private key matching publicKeyPEM.
// A fresh ephemeral key is used per call. The output layout is
// [ephemeral key length (2 bytes)][ephemeral key][nonce][ciphertext].
func Seal(publicKeyPEM, data []byte) ([]byte, error) {
	recipient, err := parseSealPublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	shared, err := ephemeral.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	ephemeralPub := ephemeral.PublicKey().Bytes()
	aead, err := sealCipher(shared, ephemeralPub)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, sealNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 2, 2+len(ephemeralPub)+sealNonceSize+len(data)+aead.Overhead())
	binary.BigEndian.PutUint16(out, uint16(len(ephemeralPub)))
	out = append(out, ephemeralPub...)
	aad := append([]byte(nil), out...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, data, aad), nil
}

// Open decrypts data produced by Seal with the matching private key.
func Open(privateKeyPEM, sealed []byte) ([]byte, error) {
	priv, err := parseSealPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	if len(sealed) < 2 {
		return nil, fmt.Errorf("%w: too short", ErrSealedDataInvalid)
	}
	keyLen := int(binary.BigEndian.Uint16(sealed))
	header := 2 + keyLen
	if len(sealed) < header+sealNonceSize {
		return nil, fmt.Errorf("%w: truncated header", ErrSealedDataInvalid)
	}

	ephemeralPub := sealed[2:header]
	peer, err := ecdh.P256().NewPublicKey(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %v", ErrSealedDataInvalid, err)
	}
	shared, err := priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	aead, err := sealCipher(shared, ephemeralPub)
	if err != nil {
		return nil, err
	}

	nonce := sealed[header : header+sealNonceSize]
	plaintext, err := aead.Open(nil, nonce, sealed[header+sealNonceSize:], sealed[:header])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealedDataInvalid, err)
	}
	return plaintext, nil
}

// GenerateSealKeypair returns a fresh P-256 key pair as PKIX public and PKCS#8
// private PEM blocks.
func GenerateSealKeypair() (publicKeyPEM, privateKeyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}),
		nil
}

func sealCipher(shared, salt []byte) (cipher.AEAD, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, sealInfo), key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func parseSealPublicKey(publicKeyPEM []byte) (*ecdh.PublicKey, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	switch key := parsed.(type) {
	case *ecdsa.PublicKey:
		if key.Curve != elliptic.P256() {
			return nil, errors.New("public key is not on P-256")
		}
		return key.ECDH()
	case *ecdh.PublicKey:
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported public key type: %T", parsed)
	}
}

func parseSealPrivateKey(privateKeyPEM []byte) (*ecdh.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		key = k
	default:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		k, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type: %T", parsed)
		}
		key = k
	}

	if key.Curve != elliptic.P256() {
		return nil, errors.New("private key is not on P-256")
	}
	return key.ECDH()
}
