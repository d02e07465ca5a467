package crypto

import (
    "crypto/aes"
    "crypto/cipher"
    "crypto/hmac"
    "crypto/rand"
    "crypto/sha256"
    "encoding/hex"
    "errors"
    "fmt"
    "strings"
)

// Delimiter separates the MAC from the ciphertext on the wire.
const Delimiter = "::"

var (
    ErrMalformedEnvelope     = errors.New("malformed envelope")
    ErrAuthenticationFailure = errors.New("authentication failure")
)

// Encode encrypts plaintext and returns "<mac_hex>::<ciphertext_hex>".
// The MAC covers the IV and the encrypted bytes.
func Encode(plaintext []byte, key *Key) (string, error) {
    block, err := aes.NewCipher(key.enc[:])
    if err != nil {
        return "", fmt.Errorf("failed to create cipher: %w", err)
    }

    ciphertext := make([]byte, aes.BlockSize+len(plaintext))
    iv := ciphertext[:aes.BlockSize]
    if _, err := rand.Read(iv); err != nil {
        return "", fmt.Errorf("failed to generate iv: %w", err)
    }
    cipher.NewCTR(block, iv).XORKeyStream(ciphertext[aes.BlockSize:], plaintext)

    return hex.EncodeToString(key.sum(ciphertext)) + Delimiter + hex.EncodeToString(ciphertext), nil
}

// Decode verifies and decrypts an envelope produced by Encode.
// Nothing is decrypted unless the MAC matches.
func Decode(envelope string, key *Key) ([]byte, error) {
    if n := strings.Count(envelope, Delimiter); n != 1 {
        return nil, fmt.Errorf("%w: expected one delimiter, found %d", ErrMalformedEnvelope, n)
    }
    macHex, dataHex, _ := strings.Cut(envelope, Delimiter)

    mac, err := hex.DecodeString(macHex)
    if err != nil {
        return nil, fmt.Errorf("%w: mac: %v", ErrMalformedEnvelope, err)
    }
    ciphertext, err := hex.DecodeString(dataHex)
    if err != nil {
        return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedEnvelope, err)
    }

    if !hmac.Equal(mac, key.sum(ciphertext)) {
        return nil, ErrAuthenticationFailure
    }
    if len(ciphertext) < aes.BlockSize {
        return nil, fmt.Errorf("%w: ciphertext shorter than iv", ErrMalformedEnvelope)
    }

    block, err := aes.NewCipher(key.enc[:])
    if err != nil {
        return nil, fmt.Errorf("failed to create cipher: %w", err)
    }
    plaintext := make([]byte, len(ciphertext)-aes.BlockSize)
    cipher.NewCTR(block, ciphertext[:aes.BlockSize]).XORKeyStream(plaintext, ciphertext[aes.BlockSize:])
    return plaintext, nil
}

func (k *Key) sum(data []byte) []byte {
    h := hmac.New(sha256.New, k.mac[:])
    h.Write(data)
    return h.Sum(nil)
}
