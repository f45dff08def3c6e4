// Package naming validates user-facing config names and derives the storage
// key every artifact is filed under. Storage paths are built from the key
// only; raw or canonical names never reach the filesystem.
package naming

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/cfghost/internal/common"
	"github.com/dmitrijs2005/cfghost/internal/cryptox"
)

// MaxNameLength bounds a name, not counting the suffix.
const MaxNameLength = 64

var (
	ErrInvalidCharset = fmt.Errorf("%w: only A-Z, a-z, 0-9, '-' and '_' are allowed", common.ErrInvalidName)
	ErrEmpty          = fmt.Errorf("%w: empty", common.ErrInvalidName)
	ErrTooLong        = fmt.Errorf("%w: longer than %d characters", common.ErrInvalidName, MaxNameLength)
)

// Canonical is a validated config name that always ends in the config suffix.
type Canonical string

func (c Canonical) String() string { return string(c) }

// StorageKey is the hex SHA-256 of a canonical name.
type StorageKey string

func (k StorageKey) String() string { return string(k) }

// Valid reports whether k has the shape Address produces. Stores reject
// anything else before touching disk.
func (k StorageKey) Valid() bool {
	if len(k) != cryptox.KeyLength {
		return false
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Validate checks raw against the name grammar and returns its canonical
// form, appending the suffix when it is missing.
func Validate(raw string) (Canonical, error) {
	base := strings.TrimSuffix(raw, common.ConfigSuffix)

	if base == "" {
		return "", ErrEmpty
	}
	if len(base) > MaxNameLength {
		return "", ErrTooLong
	}
	for i := 0; i < len(base); i++ {
		if !allowed(base[i]) {
			return "", ErrInvalidCharset
		}
	}

	return Canonical(base + common.ConfigSuffix), nil
}

func allowed(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}

// Address derives the storage key of c.
func Address(c Canonical) StorageKey {
	return StorageKey(cryptox.Digest([]byte(c)))
}

// Resolve validates raw and addresses it in one step.
func Resolve(raw string) (Canonical, StorageKey, error) {
	c, err := Validate(raw)
	if err != nil {
		return "", "", err
	}
	return c, Address(c), nil
}

// IsInvalid reports whether err came from name validation.
func IsInvalid(err error) bool {
	return errors.Is(err, common.ErrInvalidName)
}
