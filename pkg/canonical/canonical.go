// Package canonical computes deterministic digests over ordered tuples of
// typed values. The digest is used both as the content address of signed
// entities and as the payload signed by private keys.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/shopspring/decimal"
)

// Delimiter separates the fields of a canonical string.
const Delimiter = "|"

var escaper = strings.NewReplacer(`\`, `\\`, Delimiter, `\`+Delimiter)

// Field is a value with a single canonical text representation.
type Field interface {
	Canonical() string
}

type field string

func (f field) Canonical() string {
	return string(f)
}

// String returns a text field. Delimiters inside the value are escaped so
// that two different tuples can never produce the same canonical string.
func String(s string) Field {
	return field(escaper.Replace(s))
}

// Enum returns a field represented by the enum's name, never its ordinal,
// so that reordering a declaration does not change historical hashes.
func Enum(e fmt.Stringer) Field {
	return String(e.String())
}

// Decimal returns a fixed-scale decimal field. The value must be already
// rounded to scale by the caller.
func Decimal(d decimal.Decimal, scale int32) Field {
	return field(d.StringFixed(scale))
}

// Int returns an integer field.
func Int(i int64) Field {
	return field(strconv.FormatInt(i, 10))
}

// Time returns an ISO-8601 timestamp field in UTC.
func Time(t time.Time) Field {
	return field(t.UTC().Format(time.RFC3339Nano))
}

// Bytes returns a hex encoded binary field.
func Bytes(b []byte) Field {
	return field(hex.EncodeToString(b))
}

// Optional returns the canonical text of f, or an empty field if f is nil.
func Optional(f Field) Field {
	if f == nil {
		return field("")
	}
	return f
}

// Join returns the canonical string of the given ordered fields.
func Join(fields ...Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, Optional(f).Canonical())
	}
	return strings.Join(parts, Delimiter)
}

// Hash returns the SHA-256 digest of the canonical string of fields.
func Hash(fields ...Field) [32]byte {
	return sha256.Sum256([]byte(Join(fields...)))
}

// ID returns the base58 encoded canonical hash of fields.
func ID(fields ...Field) string {
	return EncodeID(Hash(fields...))
}

// EncodeID returns the identifier of an already computed digest.
func EncodeID(digest [32]byte) string {
	return base58.Encode(digest[:])
}

// DecodeID returns the digest encoded in the given identifier.
func DecodeID(id string) ([]byte, error) {
	buf := base58.Decode(id)
	if len(buf) != sha256.Size {
		return nil, fmt.Errorf("invalid canonical id %q", id)
	}
	return buf, nil
}
