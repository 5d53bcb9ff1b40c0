package encryption

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands secret into a size-byte key bound to label. salt may be
// nil. Distinct labels give independent keys from the same secret.
func DeriveKey(secret []byte, label string, salt []byte, size int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("cannot derive %q key from empty secret", label)
	}

	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(label)), key); err != nil {
		return nil, fmt.Errorf("failed to derive %q key: %w", label, err)
	}
	return key, nil
}
