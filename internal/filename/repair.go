// Package filename repairs upload names that were decoded as Windows-1252
// somewhere between the browser and the server.
package filename

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// rawBytes maps name back to the 8-bit bytes it was decoded from. Runes up
// to U+00FF stand for their own byte, which covers the Latin-1 reading and
// the bytes Windows-1252 leaves undefined (0x81, 0x8D, 0x8F, 0x90, 0x9D).
// The Windows-1252 specials such as "—" or "€" go through the charmap.
func rawBytes(name string) ([]byte, bool) {
	out := make([]byte, 0, len(name))
	for _, r := range name {
		if r <= 0xFF {
			out = append(out, byte(r))
			continue
		}
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			return nil, false
		}
		out = append(out, b)
	}
	return out, true
}

// LooksDoubleEncoded reports whether name, read back as 8-bit bytes,
// contains a UTF-8 lead byte followed by a continuation byte, e.g. "Ã©" for
// "é" or "æ—" for the start of "日".
func LooksDoubleEncoded(name string) bool {
	raw, ok := rawBytes(name)
	if !ok {
		return false
	}
	return hasMultibyteSequence(raw)
}

func hasMultibyteSequence(raw []byte) bool {
	for i := 0; i+1 < len(raw); i++ {
		if raw[i] >= 0xC2 && raw[i] <= 0xF4 && raw[i+1] >= 0x80 && raw[i+1] <= 0xBF {
			return true
		}
	}
	return false
}

// Repair returns name re-decoded as UTF-8 when it looks double encoded.
// Anything that does not round-trip cleanly is returned unchanged. Repair is
// not idempotent on names that legitimately contain such sequences, so call
// it once, at upload time.
func Repair(name string) string {
	raw, ok := rawBytes(name)
	if !ok || !hasMultibyteSequence(raw) || !utf8.Valid(raw) {
		return name
	}
	return string(raw)
}

// Clean repairs name and strips directory parts and control characters so it
// is safe to store and to echo back in a Content-Disposition header.
func Clean(name string) string {
	name = Repair(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '"' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return "upload"
	}
	return name
}
