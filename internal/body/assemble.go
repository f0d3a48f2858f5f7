package body

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

func assemblePlain(src Source) (Payload, error) {
	if src.Plain != nil {
		return Payload{Kind: KindPlain, Data: []byte(*src.Plain)}, nil
	}
	if src.HTML != nil {
		stripped, err := stripTags(*src.HTML)
		if err != nil {
			return Payload{}, fmt.Errorf("body: strip html for plain fallback: %w", err)
		}
		return Payload{Kind: KindPlain, Data: []byte(stripped)}, nil
	}
	if src.MIMEContent != nil {
		plain, _, err := extractFromMIME(src.MIMEContent)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Kind: KindPlain, Data: []byte(plain)}, nil
	}
	return Payload{Kind: KindPlain, Data: nil}, nil
}

func assembleHTML(src Source) (Payload, error) {
	if src.HTML != nil {
		return Payload{Kind: KindHTML, Data: []byte(*src.HTML)}, nil
	}
	if src.Plain != nil {
		return Payload{Kind: KindHTML, Data: []byte(*src.Plain)}, nil
	}
	if src.MIMEContent != nil {
		_, htmlPart, err := extractFromMIME(src.MIMEContent)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Kind: KindHTML, Data: []byte(htmlPart)}, nil
	}
	return Payload{Kind: KindHTML, Data: nil}, nil
}

func assembleMIME(src Source) (Payload, error) {
	if src.MIMEContent != nil {
		return Payload{Kind: KindMIME, Data: src.MIMEContent, ContentType: "message/rfc822"}, nil
	}
	synthesized, err := synthesizeMIME(src.Plain, src.HTML)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Kind: KindMIME, Data: synthesized, ContentType: "multipart/alternative"}, nil
}

// stripTags removes HTML markup, returning the remaining text content.
// Every start or end tag of a p, br, div, tr or li element writes a newline
// so the plaintext fallback reads as paragraphs rather than one run-on
// line; text whitespace is kept as-is and repeated newlines are not
// collapsed.
func stripTags(src string) (string, error) {
	tok := html.NewTokenizer(strings.NewReader(src))
	var buf bytes.Buffer
	for {
		tt := tok.Next()
		switch tt {
		case html.ErrorToken:
			return buf.String(), nil
		case html.TextToken:
			buf.Write(tok.Text())
		case html.StartTagToken, html.EndTagToken:
			name, _ := tok.TagName()
			switch string(name) {
			case "p", "br", "div", "tr", "li":
				buf.WriteByte('\n')
			}
		}
	}
}

// synthesizeMIME builds a multipart/alternative RFC 5322 message from
// whichever of plain/html is present, preserving CRLF line endings per
// spec §4.2.
func synthesizeMIME(plain, htmlBody *string) ([]byte, error) {
	boundary := "----=_goeas_" + boundaryFor(plain, htmlBody)
	var buf bytes.Buffer
	buf.WriteString("Content-Type: multipart/alternative; boundary=\"" + boundary + "\"\r\n\r\n")
	if plain != nil {
		buf.WriteString("--" + boundary + "\r\n")
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		buf.WriteString(toCRLF(*plain))
		buf.WriteString("\r\n")
	}
	if htmlBody != nil {
		buf.WriteString("--" + boundary + "\r\n")
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		buf.WriteString(toCRLF(*htmlBody))
		buf.WriteString("\r\n")
	}
	buf.WriteString("--" + boundary + "--\r\n")
	return buf.Bytes(), nil
}

// boundaryFor derives a short hex boundary suffix from the content being
// wrapped rather than a random source, so that two synthesizeMIME calls
// over identical plain/html content produce byte-identical output — the
// idempotent-resend cache-miss rebuild path (syncengine.Engine.Resolve)
// depends on build_sync_response being byte-stable for identical inputs
// per spec §8.
func boundaryFor(plain, htmlBody *string) string {
	h := sha256.New()
	if plain != nil {
		h.Write([]byte(*plain))
	}
	h.Write([]byte{0})
	if htmlBody != nil {
		h.Write([]byte(*htmlBody))
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}
