// Package itemoperations implements the ItemOperations command: a
// batch of Fetch entries resolved through the same body-preference
// pipeline (internal/body) that Sync's Responses/Fetch blocks use, per
// spec §4.2's rule that a single-item fetch prefers Type=4 before
// Type=2 before Type=1.
package itemoperations

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/goeas/internal/body"
	"github.com/opd-ai/goeas/internal/eas"
	"github.com/opd-ai/goeas/internal/wbxml"
)

const (
	statusSuccess  = 1
	statusNotFound = 3 // spec §7 has no dedicated "not found" category; server-error covers it
)

// Handler resolves ItemOperations requests against a MailStore.
type Handler struct {
	Mail eas.MailStore
	Log  *logrus.Logger
}

// New returns a Handler. log may be nil.
func New(mail eas.MailStore, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{Mail: mail, Log: log}
}

// Resolve produces the complete WBXML ItemOperations response for req.
func (h *Handler) Resolve(ctx context.Context, user string, req *eas.ItemOperationsRequest) []byte {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPItemOperations, "ItemOperations", true)
	w.ElemInt(wbxml.CPItemOperations, "Status", statusSuccess)
	w.Start(wbxml.CPItemOperations, "Response", true)
	for _, f := range req.Fetches {
		h.resolveOne(ctx, w, user, f)
	}
	w.End() // Response
	w.End() // ItemOperations
	return w.Bytes()
}

func (h *Handler) resolveOne(ctx context.Context, w *wbxml.Writer, user string, f eas.FetchEntry) {
	w.Start(wbxml.CPItemOperations, "Fetch", true)
	w.Elem(wbxml.CPAirSync, "ServerId", f.ServerID)

	items, err := h.Mail.GetItems(ctx, user, []string{f.ServerID})
	if err != nil {
		h.Log.WithError(err).Warn("itemoperations: get_items failed")
	}
	if err != nil || len(items) == 0 {
		w.ElemInt(wbxml.CPItemOperations, "Status", statusNotFound)
		w.End() // Fetch
		return
	}

	it := items[0]
	w.ElemInt(wbxml.CPItemOperations, "Status", statusSuccess)
	w.Start(wbxml.CPItemOperations, "Properties", true)

	kind := body.SelectForFetch(f.BodyPreferences)
	pref := body.EffectivePreference(f.BodyPreferences, kind)
	if payload, assembleErr := body.Assemble(kind, it.ToSource()); assembleErr == nil {
		body.EmitBody(w, body.Truncate(payload, pref))
	} else {
		h.Log.WithError(assembleErr).Warn("itemoperations: body assembly failed")
	}

	w.End() // Properties
	w.End() // Fetch
}
