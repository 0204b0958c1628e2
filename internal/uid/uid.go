// Package uid converts between internal sequential record ids and the
// fixed-width public identifiers exposed by the API, e.g. 1 <-> "Uaaaab".
package uid

import (
	"errors"
	"math"
	"strings"
)

type Kind int

const (
	KindUser Kind = iota
	KindComment
)

var ErrorInvalidID = errors.New("invalid public id")

type alphabet struct {
	tag      byte
	digits   string
	minWidth int
}

var alphabets = map[Kind]alphabet{
	KindUser:    {'U', "abcdefghijklmnopqrstuvwxyz", 5},
	KindComment: {'C', "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ", 3},
}

// Encode renders a non-negative internal id as a tagged, zero-padded public
// identifier. The zero digit is the alphabet's first character.
func Encode(n int64, kind Kind) (string, error) {
	a, ok := alphabets[kind]
	if !ok {
		return "", ErrorInvalidID
	}
	if n < 0 {
		return "", ErrorInvalidID
	}

	base := int64(len(a.digits))
	var sb strings.Builder
	for n > 0 {
		sb.WriteByte(a.digits[n%base])
		n /= base
	}

	encoded := sb.String()
	out := make([]byte, 0, len(encoded)+1)
	out = append(out, a.tag)
	for i := len(encoded); i < a.minWidth; i++ {
		out = append(out, a.digits[0])
	}
	// digits were accumulated least-significant first
	for i := len(encoded) - 1; i >= 0; i-- {
		out = append(out, encoded[i])
	}
	return string(out), nil
}

// Decode is the exact inverse of Encode. It rejects a missing or wrong kind
// tag, any character outside the kind's alphabet, and any value that does
// not fit an int64.
func Decode(s string, kind Kind) (int64, error) {
	a, ok := alphabets[kind]
	if !ok {
		return 0, ErrorInvalidID
	}
	if len(s) < a.minWidth+1 || s[0] != a.tag {
		return 0, ErrorInvalidID
	}

	base := int64(len(a.digits))
	var n int64
	for i := 1; i < len(s); i++ {
		d := strings.IndexByte(a.digits, s[i])
		if d < 0 {
			return 0, ErrorInvalidID
		}
		if n > (math.MaxInt64-int64(d))/base {
			return 0, ErrorInvalidID
		}
		n = n*base + int64(d)
	}
	return n, nil
}
