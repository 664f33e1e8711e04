// Package textnorm canonicalises complaint text before any keyword matching
// or model call sees it.
//
// Normalisation is deterministic and idempotent: Unicode NFC composition,
// removal of control and invisible format characters (ZWJ and ZWNJ are kept
// because they change how Bengali conjuncts render), collapsing of every
// whitespace run into a single ASCII space, and lower-casing of cased
// scripts. Bengali has no letter case, so code-switched text such as
// "wifi কাজ করছে না" only has its Latin part folded.
package textnorm

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	zwnj = '\u200c'
	zwj  = '\u200d'
	zwsp = '\u200b'
)

// ErrInvalidInput is matched (via errors.Is) by every *InputError.
var ErrInvalidInput = errors.New("invalid input")

// Reasons carried by InputError.
const (
	ReasonEmpty       = "empty text"
	ReasonInvalidUTF8 = "text is not valid UTF-8"
	ReasonTooLong     = "text exceeds maximum length"
)

// InputError reports complaint text that cannot be classified. It is a user
// error: callers should reject the request rather than retry it.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return "textnorm: " + e.Reason }

// Is reports whether target is ErrInvalidInput.
func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// Normalize returns the canonical form of s. Invalid UTF-8 sequences are
// replaced by spaces.
func Normalize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, " ")
	}
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r) || r == zwsp:
			space = true
			continue
		case r == zwj || r == zwnj:
			// kept
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Clean validates raw and returns its normalised form. maxRunes <= 0 disables
// the length check. Errors are always *InputError.
func Clean(raw string, maxRunes int) (string, error) {
	if !utf8.ValidString(raw) {
		return "", &InputError{Reason: ReasonInvalidUTF8}
	}
	s := Normalize(raw)
	if s == "" {
		return "", &InputError{Reason: ReasonEmpty}
	}
	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		return "", &InputError{Reason: ReasonTooLong}
	}
	return s, nil
}
