// Package credentials holds the upstream API keys the relay rotates through.
package credentials

import (
	"errors"
	"log/slog"
	"math/rand"
	"strings"
)

// ErrEmptyPool is returned when no usable credential was configured.
var ErrEmptyPool = errors.New("no API keys configured")

// Credential is an opaque upstream secret. Its String and LogValue forms are
// masked so it can be passed to loggers directly.
type Credential string

// Masked returns the first and last four characters of the secret. Secrets
// shorter than 12 characters are fully hidden.
func (c Credential) Masked() string {
	if len(c) < 12 {
		return "****"
	}
	return string(c[:4]) + "..." + string(c[len(c)-4:])
}

func (c Credential) String() string { return c.Masked() }

// LogValue implements slog.LogValuer.
func (c Credential) LogValue() slog.Value { return slog.StringValue(c.Masked()) }

// Pool is an immutable, ordered set of credentials. The zero value is an
// empty pool.
type Pool struct {
	keys []Credential
}

// NewPool builds a pool from raw key strings, skipping blank entries and
// preserving order.
func NewPool(keys []string) (*Pool, error) {
	p := &Pool{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		p.keys = append(p.keys, Credential(k))
	}
	if len(p.keys) == 0 {
		return nil, ErrEmptyPool
	}
	return p, nil
}

// Size returns the number of credentials.
func (p *Pool) Size() int { return len(p.keys) }

// At returns the credential in slot index.
func (p *Pool) At(index int) Credential { return p.keys[index] }

// RandomIndex picks a slot uniformly at random. It is used to spread load,
// not for anything security relevant.
func (p *Pool) RandomIndex() int {
	if len(p.keys) == 0 {
		return 0
	}
	return rand.Intn(len(p.keys))
}
