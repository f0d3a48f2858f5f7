// Package body implements the body-preference, MIME transcoding, and
// truncation pipeline shared by the Sync and ItemOperations response
// paths (spec §4.2). It chooses a body type, assembles its content from
// whatever the mail store actually stored, computes the untruncated
// EstimatedDataSize before any truncation or line-ending normalization,
// and truncates without splitting a UTF-8 code point.
package body

// Kind identifies one of the four AirSyncBase body types.
type Kind int

const (
	KindPlain Kind = 1
	KindHTML  Kind = 2
	KindRTF   Kind = 3 // accepted in preferences, never produced (no RTF source exists)
	KindMIME  Kind = 4
)

// Preference is a client-supplied BodyPreference entry (spec §3).
type Preference struct {
	Type           Kind
	TruncationSize *int // nil means "no limit" per spec §4.2
	AllOrNone      bool
}

// Source is the subset of a MailItem the pipeline needs to produce a body.
type Source struct {
	Plain       *string
	HTML        *string
	MIMEContent []byte
}

// syncOrder and fetchOrder implement spec §4.2's two default priority
// orders, used when the client supplied no usable preference.
var syncOrder = []Kind{KindHTML, KindPlain, KindMIME}
var fetchOrder = []Kind{KindMIME, KindHTML, KindPlain}

// SelectForSync picks the body type for a normal Sync response item.
func SelectForSync(prefs []Preference) Kind {
	return selectKind(prefs, syncOrder)
}

// SelectForFetch picks the body type for a single-item Fetch (either
// ItemOperations.Fetch or Sync.Responses.Fetch).
func SelectForFetch(prefs []Preference) Kind {
	return selectKind(prefs, fetchOrder)
}

func selectKind(prefs []Preference, fallback []Kind) Kind {
	if len(prefs) == 0 {
		return fallback[0]
	}
	best := Kind(0)
	bestRank := len(fallback)
	for _, p := range prefs {
		rank := indexOf(fallback, p.Type)
		if rank < 0 {
			continue // a Type the pipeline can't service (e.g. RTF) is ignored
		}
		if rank < bestRank {
			bestRank = rank
			best = p.Type
		}
	}
	if best == 0 {
		return fallback[0]
	}
	return best
}

func indexOf(order []Kind, k Kind) int {
	for i, v := range order {
		if v == k {
			return i
		}
	}
	return -1
}

// EffectivePreference collapses duplicate entries for the same Type: per
// the spec's Open Question recommendation, the largest TruncationSize
// among duplicates wins. A nil TruncationSize (no limit) always wins over
// any finite one, since it is the least restrictive. Returns nil if prefs
// has no entry for k, in which case Truncate applies its no-preference
// rules (no limit for Plain/HTML, the 512 KiB cap for MIME).
func EffectivePreference(prefs []Preference, k Kind) *Preference {
	var best *Preference
	for i := range prefs {
		p := &prefs[i]
		if p.Type != k {
			continue
		}
		if best == nil {
			best = p
			continue
		}
		if best.TruncationSize == nil {
			continue
		}
		if p.TruncationSize == nil || *p.TruncationSize > *best.TruncationSize {
			best = p
		}
	}
	return best
}

// Payload is the fully assembled, untruncated body for one item, ready for
// Truncate and then emission via the wbxml writer.
type Payload struct {
	Kind       Kind
	Data       []byte // on-the-wire bytes: UTF-8 text for Plain/HTML, MIME bytes for Mime
	ContentType string // only meaningful for Kind == KindMIME
}

// Assemble builds the untruncated Payload for the selected Kind from src,
// per spec §4.2's content-assembly rules.
func Assemble(k Kind, src Source) (Payload, error) {
	switch k {
	case KindPlain:
		return assemblePlain(src)
	case KindHTML:
		return assembleHTML(src)
	case KindMIME:
		return assembleMIME(src)
	default:
		return assemblePlain(src)
	}
}
