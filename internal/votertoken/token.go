// Package votertoken derives and validates the bearer tokens that admit a
// roster member to the ballot. A token is a deterministic function of the
// voter's email and organization, so links can be regenerated from the
// roster at any time without stored state.
package votertoken

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"hustings/pkg/domain"
)

// MaxLength is the length every current-format token is truncated to.
const MaxLength = 32

// Derive returns the current-format token for a voter.
func Derive(email, organization string) string {
	return canonical(email + organization)
}

// DeriveLegacy returns the per-position token issued by earlier mailings.
// It is still honoured so old links keep working.
func DeriveLegacy(email string, position domain.Position, organization string) string {
	return canonical(email + string(position) + organization)
}

// Candidates lists every token accepted for a voter: the current format and
// one legacy token per position.
func Candidates(email, organization string) []string {
	positions := domain.AllPositions()
	out := make([]string, 0, len(positions)+1)
	out = append(out, Derive(email, organization))
	for _, p := range positions {
		out = append(out, DeriveLegacy(email, p, organization))
	}
	return out
}

// WellFormed rejects tokens that no derivation can produce, before any
// roster lookup.
func WellFormed(token string) bool {
	if token == "" || len(token) > MaxLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		if !isAlnum(token[i]) {
			return false
		}
	}
	return true
}

// encode base64-encodes s using one byte per code point for Latin-1 text,
// matching tokens issued by browser clients. Code points above U+00FF fall
// back to their UTF-8 bytes.
func encode(s string) string {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r <= 0xFF {
			buf = append(buf, byte(r))
			continue
		}
		buf = utf8.AppendRune(buf, r)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func canonical(s string) string {
	t := alnum(encode(s))
	if len(t) > MaxLength {
		t = t[:MaxLength]
	}
	return t
}

func alnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if isAlnum(s[i]) {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
