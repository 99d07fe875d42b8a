// Package fieldhash applies a one-way, salted hash to selected write fields.
// Hashed values can be verified against a plaintext but never recovered.
package fieldhash

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 10

// Hasher is the algorithm behind Apply.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) bool
}

// Bcrypt is the default Hasher.
type Bcrypt struct {
	Cost int
}

func (b Bcrypt) Hash(plaintext string) (string, error) {
	return Hash(plaintext, b.Cost)
}

func (b Bcrypt) Verify(hash, plaintext string) bool {
	return Verify(hash, plaintext)
}

// Hash returns the bcrypt hash of plaintext. Costs outside bcrypt's range
// fall back to DefaultCost.
func Hash(plaintext string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify reports whether plaintext matches hash.
func Verify(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// ParseList splits a comma-separated field list, trimming blanks.
func ParseList(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Apply returns a copy of fields in which every column named in csv has
// been replaced by its hash. Names not present in fields are ignored and
// an empty csv returns the copy unchanged.
func Apply(h Hasher, fields map[string]any, csv string) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}

	for _, name := range ParseList(csv) {
		v, ok := out[name]
		if !ok {
			continue
		}
		hashed, err := h.Hash(plaintext(v))
		if err != nil {
			return nil, fmt.Errorf("hash field %q: %w", name, err)
		}
		out[name] = hashed
	}
	return out, nil
}

func plaintext(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
