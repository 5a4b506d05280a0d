package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	saltLen = 32
	// 2^20 is the recommended cost for key-stretching interactive logins.
	defaultScryptN = 1 << 20
)

// ErrInvalidPassphrase is returned when the seed can't be decrypted.
var ErrInvalidPassphrase = errors.New("invalid passphrase")

// encrypt seals plaintext with AES-256-GCM under a key stretched from
// passphrase with scrypt. The result is nonce|ciphertext|salt.
func encrypt(plaintext, passphrase []byte, scryptN int) ([]byte, error) {
	key, salt, err := deriveKey(passphrase, nil, scryptN)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return append(ciphertext, salt...), nil
}

func decrypt(data, passphrase []byte, scryptN int) ([]byte, error) {
	if len(data) <= saltLen {
		return nil, fmt.Errorf("encrypted seed is too short")
	}
	salt, data := data[len(data)-saltLen:], data[:len(data)-saltLen]

	key, _, err := deriveKey(passphrase, salt, scryptN)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, fmt.Errorf("encrypted seed is too short")
	}

	nonce, text := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, text, nil)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return plaintext, nil
}

func deriveKey(passphrase, salt []byte, scryptN int) ([]byte, []byte, error) {
	if salt == nil {
		salt = make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, err
		}
	}
	key, err := scrypt.Key(passphrase, salt, scryptN, 8, 1, 32)
	if err != nil {
		return nil, nil, err
	}
	return key, salt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
