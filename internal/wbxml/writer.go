package wbxml

import (
	"bytes"
	"strconv"
)

// Writer encodes a stream of WBXML tokens into a byte-exact payload. It is
// stateful: it tracks the current codepage and only emits a page-switch
// control byte when the codepage actually changes, and it tracks which
// currently-open tags were written with `Content: false` so the matching
// End call knows not to emit a byte for them.
type Writer struct {
	buf         bytes.Buffer
	page        Codepage
	pageValid   bool
	openNoEnd   []bool // stack entry true => matching End() must not emit anything
	err         error
}

// NewWriter returns a Writer ready to accept Start/End/WriteString/WriteOpaque
// calls. The WBXML header is written immediately.
func NewWriter() *Writer {
	w := &Writer{}
	w.buf.WriteByte(wbxmlVersion)
	w.buf.WriteByte(wbxmlPublicID)
	w.buf.WriteByte(wbxmlCharset)
	w.buf.WriteByte(headerStrTbl)
	return w
}

// Err returns the first error encountered by any Writer method, if any.
func (w *Writer) Err() error {
	return w.err
}

// Bytes returns the encoded payload so far. It is valid to call Bytes before
// every Start has a matching End only for diagnostic purposes; a well-formed
// document must balance every Start/End pair.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) switchPage(cp Codepage) {
	if w.err != nil {
		return
	}
	if w.pageValid && cp == w.page {
		return
	}
	w.buf.WriteByte(switchPage)
	w.buf.WriteByte(byte(cp))
	w.page = cp
	w.pageValid = true
}

// Start writes the start tag for name in codepage cp. withContent marks
// whether the tag carries children or an inline string (bit 0x40); pass
// false for empty elements like <MoreAvailable/>, in which case the
// corresponding End call is a no-op.
func (w *Writer) Start(cp Codepage, name string, withContent bool) {
	if w.err != nil {
		return
	}
	code, err := lookupTag(cp, name)
	if err != nil {
		w.fail(err)
		return
	}
	w.switchPage(cp)
	tag := code & tagCodeMask
	if withContent {
		tag |= tagContentMask
	}
	w.buf.WriteByte(tag)
	w.openNoEnd = append(w.openNoEnd, !withContent)
}

// End closes the most recently opened Start call.
func (w *Writer) End() {
	if w.err != nil {
		return
	}
	n := len(w.openNoEnd)
	if n == 0 {
		return
	}
	noEnd := w.openNoEnd[n-1]
	w.openNoEnd = w.openNoEnd[:n-1]
	if noEnd {
		return
	}
	w.buf.WriteByte(end)
}

// WriteString writes s as an inline string (STR_I) followed by its
// terminating NUL, per the encoder contract in spec §4.1.
func (w *Writer) WriteString(s string) {
	if w.err != nil {
		return
	}
	w.buf.WriteByte(strI)
	w.buf.WriteString(s)
	w.buf.WriteByte(0x00)
}

// WriteInt writes v as its decimal string form — WBXML carries all content
// as character data, even for integer-valued tokens.
func (w *Writer) WriteInt(v int64) {
	w.WriteString(strconv.FormatInt(v, 10))
}

// WriteOpaque writes b as an OPAQUE token: control byte, mb_u32 length,
// raw bytes. Used only for Type=4 (MIME) Data per spec §4.1.
func (w *Writer) WriteOpaque(b []byte) {
	if w.err != nil {
		return
	}
	w.buf.WriteByte(opaque)
	writeMbU32(&w.buf, uint32(len(b)))
	w.buf.Write(b)
}

// Elem writes a simple <name>text</name> element in one call: Start with
// content, the string body, and End.
func (w *Writer) Elem(cp Codepage, name, text string) {
	w.Start(cp, name, true)
	w.WriteString(text)
	w.End()
}

// ElemInt writes a simple <name>N</name> element.
func (w *Writer) ElemInt(cp Codepage, name string, n int64) {
	w.Start(cp, name, true)
	w.WriteInt(n)
	w.End()
}

// Empty writes a self-closing <name/> element, e.g. <MoreAvailable/>.
func (w *Writer) Empty(cp Codepage, name string) {
	w.Start(cp, name, false)
	w.End()
}

// writeMbU32 writes v using WBXML's multi-byte uint32 encoding: big-endian
// base-128 groups of 7 bits, every byte but the last has bit 7 set.
func writeMbU32(buf *bytes.Buffer, v uint32) {
	if v == 0 {
		buf.WriteByte(0)
		return
	}
	var stack []byte
	for v > 0 {
		stack = append(stack, byte(v&0x7F))
		v >>= 7
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b := stack[i]
		if i != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
	}
}
