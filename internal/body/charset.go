package body

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// decodeCharset transcodes b, declared to be in the IANA charset named by
// charsetName, into UTF-8. It accepts any alias the WHATWG Encoding
// Standard recognizes — which covers windows-1255, iso-8859-8,
// windows-1252, and every UTF variant the spec requires — via
// golang.org/x/text/encoding/htmlindex. An empty or "utf-8" name is a
// no-op.
func decodeCharset(b []byte, charsetName string) (string, error) {
	name := strings.TrimSpace(strings.ToLower(charsetName))
	if name == "" || name == "utf-8" || name == "utf8" || name == "us-ascii" {
		return string(b), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", fmt.Errorf("body: unknown charset %q: %w", charsetName, err)
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("body: decode charset %q: %w", charsetName, err)
	}
	return string(out), nil
}

// decodeTransferEncoding reverses a Content-Transfer-Encoding before
// charset decoding runs, per spec §4.2.
func decodeTransferEncoding(raw []byte, cte string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(cte)) {
	case "", "7bit", "8bit", "binary":
		return raw, nil
	case "quoted-printable":
		out, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, fmt.Errorf("body: quoted-printable decode: %w", err)
		}
		return out, nil
	case "base64":
		out, err := base64.StdEncoding.DecodeString(stripWhitespace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("body: base64 decode: %w", err)
		}
		return out, nil
	default:
		return raw, nil
	}
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// decodePart reverses a MIME part's Content-Transfer-Encoding and charset,
// producing UTF-8 text.
func decodePart(cte, charsetName string, raw []byte) (string, error) {
	decoded, err := decodeTransferEncoding(raw, cte)
	if err != nil {
		return "", err
	}
	return decodeCharset(decoded, charsetName)
}

// extractFromMIME parses a stored rfc5322 message and returns its plain
// and HTML parts (either may be empty if absent), used when mime_content
// is the only body source available for Type=1/2 extraction.
func extractFromMIME(raw []byte) (plain string, htmlPart string, err error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return "", "", fmt.Errorf("body: parse mime message: %w", err)
	}
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		// No parseable Content-Type: treat the whole body as plain text in
		// the declared (or default) transfer encoding.
		raw, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", "", err
		}
		text, err := decodePart(msg.Header.Get("Content-Transfer-Encoding"), "", raw)
		return text, "", err
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(msg.Body, params["boundary"])
		for {
			part, perr := mr.NextPart()
			if perr == io.EOF {
				break
			}
			if perr != nil {
				return "", "", fmt.Errorf("body: read mime part: %w", perr)
			}
			partBytes, rerr := io.ReadAll(part)
			if rerr != nil {
				return "", "", rerr
			}
			pType, pParams, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			text, derr := decodePart(part.Header.Get("Content-Transfer-Encoding"), pParams["charset"], partBytes)
			if derr != nil {
				return "", "", derr
			}
			switch {
			case strings.HasPrefix(pType, "text/html") && htmlPart == "":
				htmlPart = text
			case strings.HasPrefix(pType, "text/plain") && plain == "":
				plain = text
			}
		}
		return plain, htmlPart, nil
	}

	raw, rerr := io.ReadAll(msg.Body)
	if rerr != nil {
		return "", "", rerr
	}
	text, derr := decodePart(msg.Header.Get("Content-Transfer-Encoding"), params["charset"], raw)
	if derr != nil {
		return "", "", derr
	}
	if strings.HasPrefix(mediaType, "text/html") {
		return "", text, nil
	}
	return text, "", nil
}
