package body

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func TestSelectForSyncDefaultOrder(t *testing.T) {
	assert.Equal(t, KindHTML, SelectForSync(nil))
}

func TestSelectForFetchDefaultOrder(t *testing.T) {
	assert.Equal(t, KindMIME, SelectForFetch(nil))
}

func TestSelectHonorsClientPreferenceOrder(t *testing.T) {
	prefs := []Preference{{Type: KindPlain}, {Type: KindMIME}}
	// Sync order is HTML, Plain, MIME: of the client's two choices, Plain
	// ranks before MIME.
	assert.Equal(t, KindPlain, SelectForSync(prefs))
}

func TestSelectIgnoresUnservicableType(t *testing.T) {
	prefs := []Preference{{Type: KindRTF}, {Type: KindPlain}}
	assert.Equal(t, KindPlain, SelectForSync(prefs))
}

func TestEffectivePreferenceLargestTruncationWins(t *testing.T) {
	small := 100
	large := 5000
	prefs := []Preference{
		{Type: KindHTML, TruncationSize: &small},
		{Type: KindHTML, TruncationSize: &large},
	}
	got := EffectivePreference(prefs, KindHTML)
	require.NotNil(t, got)
	assert.Equal(t, large, *got.TruncationSize)
}

func TestEffectivePreferenceNilBeatsFinite(t *testing.T) {
	small := 100
	prefs := []Preference{
		{Type: KindHTML, TruncationSize: nil},
		{Type: KindHTML, TruncationSize: &small},
	}
	got := EffectivePreference(prefs, KindHTML)
	require.NotNil(t, got)
	assert.Nil(t, got.TruncationSize)
}

func TestAssemblePlainPrefersPlainOverHTML(t *testing.T) {
	src := Source{Plain: strptr("hello"), HTML: strptr("<b>hi</b>")}
	p, err := Assemble(KindPlain, src)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(p.Data))
}

func TestAssemblePlainStripsHTMLWhenNoPlain(t *testing.T) {
	src := Source{HTML: strptr("<p>Hello <b>World</b></p>")}
	p, err := Assemble(KindPlain, src)
	require.NoError(t, err)
	assert.Contains(t, string(p.Data), "Hello")
	assert.Contains(t, string(p.Data), "World")
	assert.NotContains(t, string(p.Data), "<b>")
}

func TestAssembleMIMESynthesizesWhenAbsent(t *testing.T) {
	src := Source{Plain: strptr("hi"), HTML: strptr("<p>hi</p>")}
	p, err := Assemble(KindMIME, src)
	require.NoError(t, err)
	assert.Contains(t, string(p.Data), "multipart/alternative")
	assert.Contains(t, string(p.Data), "hi")
}

func TestTruncateEstimatedDataSizeIsFullSize(t *testing.T) {
	full := strings.Repeat("a", 1000)
	limit := 100
	p := Payload{Kind: KindPlain, Data: []byte(full)}
	e := Truncate(p, &Preference{Type: KindPlain, TruncationSize: &limit})
	assert.Equal(t, 1000, e.EstimatedDataSize)
	assert.True(t, e.Truncated)
	assert.LessOrEqual(t, len(e.Data), 100)
}

func TestTruncateNoLimitForPlainNeverTruncates(t *testing.T) {
	full := strings.Repeat("a", 10000)
	p := Payload{Kind: KindPlain, Data: []byte(full)}
	e := Truncate(p, nil)
	assert.False(t, e.Truncated)
	assert.Equal(t, 10000, len(e.Data))
}

func TestTruncateMIMEDefaultCap(t *testing.T) {
	full := make([]byte, mimeDefaultCap+10)
	p := Payload{Kind: KindMIME, Data: full}
	e := Truncate(p, nil)
	assert.True(t, e.Truncated)
	assert.Equal(t, mimeDefaultCap, len(e.Data))
}

func TestTruncateUTF8Safety(t *testing.T) {
	// "é" is 2 bytes (0xC3 0xA9); place one right at the truncation boundary.
	full := "a" + strings.Repeat("é", 50)
	limit := 4 // lands mid-codepoint if sliced naively
	p := Payload{Kind: KindPlain, Data: []byte(full)}
	e := Truncate(p, &Preference{Type: KindPlain, TruncationSize: &limit})
	assert.True(t, len(e.Data) <= limit)
	// Decoding must not error/produce replacement characters from a split rune.
	assert.True(t, isValidUTF8(e.Data))
}

func isValidUTF8(b []byte) bool {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			return false
		}
		i += size
	}
	return true
}
