// pkg/crypto/keys.go
package crypto

import (
    "crypto/sha256"
    "errors"
    "fmt"
    "io"

    "golang.org/x/crypto/hkdf"
)

const keySize = 32

var ErrEmptySecret = errors.New("empty shared secret")

// Key holds the symmetric material derived from the ring's pre-shared secret.
// Encryption and authentication never share the same bytes.
type Key struct {
    enc [keySize]byte
    mac [keySize]byte
}

// DeriveKey expands a pre-shared secret into an encryption key and a MAC key
func DeriveKey(secret []byte) (*Key, error) {
    if len(secret) == 0 {
        return nil, ErrEmptySecret
    }

    k := &Key{}
    if err := expand(secret, "ringnode envelope encryption", k.enc[:]); err != nil {
        return nil, err
    }
    if err := expand(secret, "ringnode envelope mac", k.mac[:]); err != nil {
        return nil, err
    }
    return k, nil
}

func expand(secret []byte, info string, out []byte) error {
    r := hkdf.New(sha256.New, secret, nil, []byte(info))
    if _, err := io.ReadFull(r, out); err != nil {
        return fmt.Errorf("failed to derive %s key: %w", info, err)
    }
    return nil
}
