// Package dispatcher implements the command dispatcher (spec §4.5): it
// parses the ActiveSync request envelope off the query string and
// Authorization header, negotiates protocol version, enforces the
// provisioning gate, composes the fixed response headers, and routes
// to the other command handlers.
//
// The teacher ships no HTTP server (Tox is a UDP/TCP P2P protocol), so
// this component's transport concern is enriched from the rest of the
// retrieval pack: gorilla/mux is the idiomatic single-process HTTP
// router the pack's dendrite slice uses. Command routing itself (a
// switch from a negotiated token to a handler) mirrors the teacher's
// transport/negotiating_transport.go, which dispatches on a negotiated
// protocol byte the same way this package dispatches on Cmd.
package dispatcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/goeas/internal/decode"
	"github.com/opd-ai/goeas/internal/devicestore"
	"github.com/opd-ai/goeas/internal/eas"
	"github.com/opd-ai/goeas/internal/foldersync"
	"github.com/opd-ai/goeas/internal/itemoperations"
	"github.com/opd-ai/goeas/internal/ping"
	"github.com/opd-ai/goeas/internal/provision"
	"github.com/opd-ai/goeas/internal/settings"
	"github.com/opd-ai/goeas/internal/syncengine"
	"github.com/opd-ai/goeas/internal/wbxml"
)

// Path is the fixed ActiveSync endpoint (spec §6).
const Path = "/Microsoft-Server-ActiveSync"

const (
	contentTypeWBXML = "application/vnd.ms-sync.wbxml"
	serverVersion     = "16.1"
	protocolCommands  = "Sync,FolderSync,FolderCreate,FolderDelete,FolderUpdate,GetItemEstimate,Ping,Provision,Options,Settings,ItemOperations,SendMail,SmartForward,SmartReply,MoveItems,MeetingResponse,Search,Find,GetAttachment,ResolveRecipients,ValidateCert"
)

// DefaultSupportedVersions is the version negotiation range spec §1
// names; a caller-supplied config.Config.SupportedVersions overrides
// it.
var DefaultSupportedVersions = []string{"12.1", "14.0", "14.1", "16.0", "16.1"}

// Dispatcher wires every command handler behind the single HTTP
// endpoint spec §6 defines.
type Dispatcher struct {
	Sync           *syncengine.Engine
	FolderSync     *foldersync.Handler
	Provision      *provision.Handler
	Ping           *ping.Engine
	ItemOperations *itemoperations.Handler
	Devices        *devicestore.Store
	Auth           eas.AuthService

	SupportedVersions []string
	ModernVersion     string // default when negotiation finds no explicit header and the device looks modern
	LegacyVersion     string // default otherwise

	Log *logrus.Logger
}

// New returns a Dispatcher with spec-conformant version defaults. log
// may be nil.
func New(sync *syncengine.Engine, fs *foldersync.Handler, prov *provision.Handler, pingEngine *ping.Engine, itemOps *itemoperations.Handler, devices *devicestore.Store, auth eas.AuthService, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.New()
	}
	return &Dispatcher{
		Sync:              sync,
		FolderSync:        fs,
		Provision:         prov,
		Ping:              pingEngine,
		ItemOperations:    itemOps,
		Devices:           devices,
		Auth:              auth,
		SupportedVersions: DefaultSupportedVersions,
		ModernVersion:     "16.1",
		LegacyVersion:     "14.1",
		Log:               log,
	}
}

// Router returns a mux.Router with the ActiveSync endpoint registered.
func (d *Dispatcher) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(Path, d.handlePost).Methods(http.MethodPost)
	r.HandleFunc(Path, d.handleOptions).Methods(http.MethodOptions)
	return r
}

func (d *Dispatcher) handleOptions(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("MS-Server-ActiveSync", serverVersion)
	h.Set("MS-ASProtocolVersions", strings.Join(d.supportedVersions(), ","))
	h.Set("MS-ASProtocolCommands", protocolCommands)
	h.Set("Cache-Control", "private, no-cache")
	h.Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
}

func (d *Dispatcher) supportedVersions() []string {
	if len(d.SupportedVersions) > 0 {
		return d.SupportedVersions
	}
	return DefaultSupportedVersions
}

func (d *Dispatcher) handlePost(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	q := r.URL.Query()
	cmd := eas.Cmd(q.Get("Cmd"))
	deviceID := q.Get("DeviceId")
	deviceType := q.Get("DeviceType")

	log := d.Log.WithFields(logrus.Fields{
		"request_id": requestID,
		"cmd":        cmd,
		"device_id":  deviceID,
	})

	user, err := d.authenticate(r)
	if err != nil {
		log.WithError(err).Warn("dispatcher: authentication failed")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	negotiated := negotiateVersion(r.Header.Get("MS-ASProtocolVersion"), deviceType, d.supportedVersions(), d.ModernVersion, d.LegacyVersion)
	device := d.Devices.GetOrCreate(user.Name, deviceID, deviceType)

	if cmd != eas.CmdProvision && !device.IsProvisioned {
		log.Info("dispatcher: gating unprovisioned device")
		d.writeHeaders(w, negotiated, device.PolicyKey)
		w.WriteHeader(449)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.WithError(err).Warn("dispatcher: failed reading request body")
		d.writeHeaders(w, negotiated, device.PolicyKey)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(encodeGenericStatus(3))
		return
	}

	ctx := syncengine.WithDeviceID(r.Context(), deviceID)
	payload := d.route(ctx, log, user.Name, deviceID, deviceType, cmd, body)
	if payload == nil {
		// Only the Ping path returns nil deliberately, for client
		// disconnect (spec §4.7 step 5): send nothing at all.
		return
	}

	if cmd == eas.CmdProvision {
		// A Phase 2 acknowledgment has just updated the record; echo the
		// policy key it now holds.
		device = d.Devices.GetOrCreate(user.Name, deviceID, deviceType)
	}

	d.writeHeaders(w, negotiated, device.PolicyKey)
	w.Header().Set("Content-Type", contentTypeWBXML)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (d *Dispatcher) route(ctx context.Context, log *logrus.Entry, user, deviceID, deviceType string, cmd eas.Cmd, raw []byte) []byte {
	switch cmd {
	case eas.CmdSync:
		req, err := decode.Sync(raw)
		if err != nil {
			log.WithError(err).Warn("dispatcher: sync decode failed")
			return encodeGenericStatus(2)
		}
		out, err := d.Sync.Resolve(ctx, user, req)
		if err != nil {
			log.WithError(err).Warn("dispatcher: sync resolve failed")
			return encodeGenericStatus(3)
		}
		return out

	case eas.CmdFolderSync:
		req, err := decode.FolderSync(raw)
		if err != nil {
			log.WithError(err).Warn("dispatcher: foldersync decode failed")
			return encodeGenericStatus(2)
		}
		return d.FolderSync.Resolve(user, deviceID, req)

	case eas.CmdProvision:
		req, err := decode.Provision(raw)
		if err != nil {
			log.WithError(err).Warn("dispatcher: provision decode failed")
			return encodeGenericStatus(2)
		}
		return d.Provision.Resolve(user, deviceID, deviceType, req)

	case eas.CmdPing:
		req, err := decode.Ping(raw)
		if err != nil {
			log.WithError(err).Warn("dispatcher: ping decode failed")
			return encodeGenericStatus(2)
		}
		out, ok := d.Ping.Resolve(ctx, user, req)
		if !ok {
			return nil
		}
		return out

	case eas.CmdItemOperations:
		req, err := decode.ItemOperations(raw)
		if err != nil {
			log.WithError(err).Warn("dispatcher: itemoperations decode failed")
			return encodeGenericStatus(2)
		}
		return d.ItemOperations.Resolve(ctx, user, req)

	case eas.CmdSettings:
		return settings.Resolve()

	case eas.CmdSearch, eas.CmdGetItemEstimate:
		// Best-effort: no GAL/estimate collaborator is in scope for this
		// revision (spec §1); acknowledge without results.
		return encodeGenericStatus(1)

	default:
		log.Warn("dispatcher: unsupported command")
		return encodeGenericStatus(2)
	}
}

func (d *Dispatcher) writeHeaders(w http.ResponseWriter, negotiatedVersion, policyKey string) {
	h := w.Header()
	h.Set("MS-Server-ActiveSync", serverVersion)
	h.Set("MS-ASProtocolVersion", negotiatedVersion)
	h.Set("MS-ASProtocolVersions", strings.Join(d.supportedVersions(), ","))
	h.Set("MS-ASProtocolCommands", protocolCommands)
	h.Set("X-MS-PolicyKey", policyKey)
	h.Set("Cache-Control", "private, no-cache")
	h.Set("Pragma", "no-cache")
}

func (d *Dispatcher) authenticate(r *http.Request) (eas.User, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return eas.User{}, errMissingAuth
	}
	token := strings.TrimPrefix(header, prefix)
	return d.Auth.Authenticate(r.Context(), token)
}

var errMissingAuth = errors.New("dispatcher: missing or malformed Authorization header")

// negotiateVersion implements spec §4.5's version negotiation: echo the
// client's requested version if it's in the supported set, otherwise
// fall back to modernDefault for device types that look like current
// smartphone mail clients and legacyDefault otherwise.
func negotiateVersion(requested, deviceType string, supported []string, modernDefault, legacyDefault string) string {
	if requested != "" {
		for _, v := range supported {
			if v == requested {
				return v
			}
		}
	}
	if looksModern(deviceType) {
		return modernDefault
	}
	return legacyDefault
}

func looksModern(deviceType string) bool {
	if deviceType == "" {
		return true
	}
	lower := strings.ToLower(deviceType)
	for _, legacy := range []string{"pocketpc", "smartphone", "winmo"} {
		if strings.Contains(lower, legacy) {
			return false
		}
	}
	return true
}

// encodeGenericStatus implements spec §4.5's "generic unsupported
// command" fallback: a minimal AirSync-codepage envelope carrying only
// a top-level Status, used for decode failures and commands this
// revision does not model beyond acknowledgment.
func encodeGenericStatus(status int64) []byte {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPAirSync, "Sync", true)
	w.ElemInt(wbxml.CPAirSync, "Status", status)
	w.End()
	return w.Bytes()
}
