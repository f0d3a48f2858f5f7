package body

import "github.com/opd-ai/goeas/internal/wbxml"

// AirSyncBase token names, duplicated here (rather than imported) to
// keep this package's only external dependency being the codec's
// Writer type, not its codepage constants table layout.
const (
	tagBody              = "Body"
	tagData              = "Data"
	tagEstimatedDataSize = "EstimatedDataSize"
	tagTruncated         = "Truncated"
	tagType              = "Type"
	tagContentType       = "ContentType"
)

// EmitBody writes a <Body> element in the exact child order spec §4.2
// requires: Type, EstimatedDataSize, Truncated, Data, (optional)
// ContentType.
func EmitBody(w *wbxml.Writer, e Emission) {
	w.Start(wbxml.CPAirSyncBase, tagBody, true)
	w.ElemInt(wbxml.CPAirSyncBase, tagType, int64(e.Kind))
	w.ElemInt(wbxml.CPAirSyncBase, tagEstimatedDataSize, int64(e.EstimatedDataSize))
	truncatedFlag := int64(0)
	if e.Truncated {
		truncatedFlag = 1
	}
	w.ElemInt(wbxml.CPAirSyncBase, tagTruncated, truncatedFlag)
	if e.Kind == KindMIME {
		w.Start(wbxml.CPAirSyncBase, tagData, true)
		w.WriteOpaque(e.Data)
		w.End()
	} else {
		w.Elem(wbxml.CPAirSyncBase, tagData, string(e.Data))
	}
	if e.ContentType != "" {
		w.Elem(wbxml.CPAirSyncBase, tagContentType, e.ContentType)
	}
	w.End()
}
