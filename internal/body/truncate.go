package body

import (
	"strings"
)

// Emission is the final, possibly-truncated body ready for the wbxml
// writer: EstimatedDataSize is always the full untruncated byte length
// (spec §4.2 / MS-ASAIRS §2.2.2.17), computed before truncation and
// before any line-ending normalization.
type Emission struct {
	Kind              Kind
	EstimatedDataSize int
	Truncated         bool
	Data              []byte
	ContentType       string
}

const mimeDefaultCap = 512 * 1024 // Type=4 cap when no truncation_size given

// Truncate applies spec §4.2's truncation rules to an assembled Payload
// given the client's effective preference for its Kind (nil means no
// preference was supplied for this type).
func Truncate(p Payload, pref *Preference) Emission {
	full := p.Data
	estimated := len(full)

	limit, hasLimit := effectiveLimit(p.Kind, pref)

	var data []byte
	var truncated bool
	switch {
	case !hasLimit:
		data = full
	case limit >= len(full):
		data = full
	default:
		data = truncatePrefix(p.Kind, full, limit)
		truncated = len(data) < estimated
	}

	if p.Kind == KindPlain || p.Kind == KindHTML {
		data = normalizeLineEndings(data)
	}

	return Emission{
		Kind:              p.Kind,
		EstimatedDataSize: estimated,
		Truncated:         truncated,
		Data:              data,
		ContentType:       p.ContentType,
	}
}

// effectiveLimit resolves spec §4.2's truncation_size rules: null means
// "never truncate" for Type 1/2 but "cap at 512 KiB" for Type 4.
func effectiveLimit(k Kind, pref *Preference) (int, bool) {
	if pref != nil && pref.TruncationSize != nil {
		return *pref.TruncationSize, true
	}
	if k == KindMIME {
		return mimeDefaultCap, true
	}
	return 0, false
}

// truncatePrefix returns a prefix of full no longer than limit bytes. For
// Type=4 (MIME) it is an exact byte-count prefix; for Type 1/2 it backs
// off to the nearest UTF-8 code point boundary so it never splits a
// multi-byte rune (spec invariant 13 / §8).
func truncatePrefix(k Kind, full []byte, limit int) []byte {
	if limit <= 0 {
		return nil
	}
	if limit >= len(full) {
		return full
	}
	if k == KindMIME {
		return full[:limit]
	}
	end := limit
	for end > 0 && isUTF8Continuation(full[end]) {
		end--
	}
	return full[:end]
}

func isUTF8Continuation(b byte) bool {
	return b&0xC0 == 0x80
}

// normalizeLineEndings converts any bare LF or CR to CRLF, matching the
// wire convention AirSyncBase bodies use. It runs AFTER size/truncation
// calculations per spec §4.2, so EstimatedDataSize reflects the
// pre-normalization byte count.
func normalizeLineEndings(b []byte) []byte {
	s := string(b)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	return []byte(s)
}

// toCRLF is the synthesis-side counterpart used when building MIME parts
// directly from stored plain/HTML strings (see assemble.go).
func toCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
