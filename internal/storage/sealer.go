package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	stderrors "errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	sealMagic      = "kbs1"
	saltSize       = 16
	keySize        = 32
	pbkdf2Rounds   = 100_000
	minSealedBytes = len(sealMagic) + saltSize
)

// ErrUnseal is returned when sealed data cannot be authenticated or decoded.
var ErrUnseal = stderrors.New("storage: cannot unseal record")

// Sealer encrypts records before they reach a Backend.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// PassphraseSealer seals with AES-256-GCM under a key derived from a
// passphrase with PBKDF2-SHA256. Each sealed value carries its own random
// salt and nonce.
//
// Layout: "kbs1" | salt(16) | nonce(12) | ciphertext+tag
type PassphraseSealer struct {
	passphrase []byte
	rounds     int
}

// NewPassphraseSealer creates a sealer. An empty passphrase is rejected.
func NewPassphraseSealer(passphrase string) (*PassphraseSealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("storage: passphrase must not be empty")
	}
	return &PassphraseSealer{passphrase: []byte(passphrase), rounds: pbkdf2Rounds}, nil
}

func (s *PassphraseSealer) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(s.passphrase, salt, s.rounds, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext.
func (s *PassphraseSealer) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := s.aead(salt)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, minSealedBytes+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, sealMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, []byte(sealMagic)), nil
}

// Open decrypts data produced by Seal.
func (s *PassphraseSealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < minSealedBytes || !bytes.HasPrefix(sealed, []byte(sealMagic)) {
		return nil, ErrUnseal
	}

	salt := sealed[len(sealMagic):minSealedBytes]
	gcm, err := s.aead(salt)
	if err != nil {
		return nil, ErrUnseal
	}

	rest := sealed[minSealedBytes:]
	if len(rest) < gcm.NonceSize() {
		return nil, ErrUnseal
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(sealMagic))
	if err != nil {
		return nil, ErrUnseal
	}
	return plaintext, nil
}
