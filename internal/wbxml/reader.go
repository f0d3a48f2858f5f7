package wbxml

import (
	"bytes"
	"io"
)

// Reader is a targeted recursive-descent WBXML decoder. It recognizes only
// the structure needed to extract request fields (spec §4.1): it descends
// into every element, reading inline strings when present, and skips
// anything it does not have a specific accessor for by structurally
// consuming it (consume inline string if content bit set, then descend
// until the matching END).
type Reader struct {
	r    *bytes.Reader
	page Codepage
}

// NewReader validates the WBXML header and returns a Reader positioned at
// the start of the body.
func NewReader(data []byte) (*Reader, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	if data[0] != wbxmlVersion || data[1] != wbxmlPublicID || data[2] != wbxmlCharset || data[3] != headerStrTbl {
		return nil, ErrBadHeader
	}
	return &Reader{r: bytes.NewReader(data[4:])}, nil
}

func (d *Reader) readByte() (byte, error) {
	return d.r.ReadByte()
}

func (d *Reader) peekByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	_ = d.r.UnreadByte()
	return b, nil
}

func readMbU32(r *bytes.Reader) (uint32, error) {
	var v uint32
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v = (v << 7) | uint32(b&0x7F)
		if b&0x80 == 0 {
			return v, nil
		}
	}
}

// readInlineString reads an STR_I token's payload: bytes up to and
// including the terminating NUL, returned without the NUL.
func (d *Reader) readInlineString() (string, error) {
	var out []byte
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0x00 {
			return string(out), nil
		}
		out = append(out, b)
	}
}

// Element represents one decoded start tag: its name, the codepage it was
// read from, and whether it carries content (children/inline string).
type Element struct {
	Page    Codepage
	Name    string
	Content bool
}

// Next advances past any SWITCH_PAGE bytes and returns the next structural
// byte along with the active codepage, or io.EOF when the input is
// exhausted.
func (d *Reader) next() (byte, error) {
	for {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		if b == switchPage {
			p, err := d.readByte()
			if err != nil {
				return 0, err
			}
			d.page = Codepage(p)
			continue
		}
		return b, nil
	}
}

// NextElement reads the next start tag, or returns (nil, io.EOF) if the
// stream is exhausted, or (nil, nil) if the next token is an END (the
// caller is expected to know when it is looking for an END vs. a child).
func (d *Reader) NextElement() (*Element, error) {
	b, err := d.next()
	if err != nil {
		return nil, err
	}
	if b == end {
		return nil, nil
	}
	code := b & tagCodeMask
	content := b&tagContentMask != 0
	name, ok := lookupName(d.page, code)
	if !ok {
		// Unknown token: still surface it under a synthetic name so the
		// caller's generic skip logic can consume it uniformly.
		name = ""
	}
	return &Element{Page: d.page, Name: name, Content: content}, nil
}

// ReadEnd consumes the END byte that closes the current element. Call it
// only when the element was opened with Content true.
func (d *Reader) ReadEnd() error {
	b, err := d.next()
	if err != nil {
		return err
	}
	if b != end {
		return ErrTruncated
	}
	return nil
}

// ReadText reads the inline-string content of the current element and then
// its closing END. It assumes the element was opened with Content true and
// its only child is a single inline string (the common case for WBXML leaf
// elements like <SyncKey>1</SyncKey>).
func (d *Reader) ReadText() (string, error) {
	b, err := d.next()
	if err != nil {
		return "", err
	}
	if b == end {
		// Content bit was set but the element is empty; nothing to read.
		return "", nil
	}
	if b != strI {
		return "", skipToken(d, b)
	}
	s, err := d.readInlineString()
	if err != nil {
		return "", err
	}
	return s, d.ReadEnd()
}

// Skip consumes an entire element's content (assuming its start tag has
// already been read and had Content true) up to and including the matching
// END, descending into nested elements as needed. Unknown tags are handled
// exactly like known ones here — the point of Skip is to not need to know.
func (d *Reader) Skip() error {
	for {
		b, err := d.next()
		if err != nil {
			return err
		}
		if b == end {
			return nil
		}
		if err := skipToken(d, b); err != nil {
			return err
		}
	}
}

// skipToken consumes one token (already read as b) that is not an END:
// an inline string, an opaque blob, or a nested element (recursing via
// Skip when it carries content).
func skipToken(d *Reader, b byte) error {
	switch b {
	case strI:
		_, err := d.readInlineString()
		return err
	case opaque:
		n, err := readMbU32(d.r)
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return err
		}
		return nil
	default:
		content := b&tagContentMask != 0
		if content {
			return d.Skip()
		}
		return nil
	}
}
