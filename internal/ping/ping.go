// Package ping implements the Ping long-poll command (spec §4.7): wait
// for either a folder-change notification or a heartbeat timeout,
// guaranteeing unsubscribe on every exit path including client
// cancellation.
//
// The wait loop is grounded on the teacher's async.Manager Start/Stop
// goroutine and its stopChan-gated select loop, generalized from a
// per-process background loop to a per-request long-poll keyed off
// context.Context cancellation the way the teacher's transport layer
// threads ctx through network_transport.go.
package ping

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/goeas/internal/eas"
	"github.com/opd-ai/goeas/internal/wbxml"
)

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

const (
	// MinHeartbeatSeconds and MaxHeartbeatSeconds bound the client's
	// requested heartbeat (spec §4.7); DefaultHeartbeatSeconds is used
	// when the client specifies none.
	MinHeartbeatSeconds     = 300
	MaxHeartbeatSeconds     = 1800
	DefaultHeartbeatSeconds = 540
)

const (
	statusChanged Status = 2
	statusNoop    Status = 1
)

// Status is a Ping response status code.
type Status int

// Engine resolves Ping requests against a MailStore's subscription
// mechanism and a Clock for heartbeat timing.
type Engine struct {
	Mail  eas.MailStore
	Clock eas.Clock
	Log   *logrus.Logger

	// MinHeartbeatSeconds, MaxHeartbeatSeconds, and DefaultHeartbeatSeconds
	// override the package defaults (set from internal/config by the
	// caller); New populates all three with the spec's hardcoded values
	// so a caller that never touches them still gets conformant behavior.
	MinHeartbeatSeconds     int
	MaxHeartbeatSeconds     int
	DefaultHeartbeatSeconds int
}

// New returns an Engine. log may be nil.
func New(mail eas.MailStore, clock eas.Clock, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		Mail:                    mail,
		Clock:                   clock,
		Log:                     log,
		MinHeartbeatSeconds:     MinHeartbeatSeconds,
		MaxHeartbeatSeconds:     MaxHeartbeatSeconds,
		DefaultHeartbeatSeconds: DefaultHeartbeatSeconds,
	}
}

// ClampHeartbeat enforces spec §4.7's [300, 1800] bound, substituting
// the default when seconds is zero.
func ClampHeartbeat(seconds int) int {
	if seconds == 0 {
		return DefaultHeartbeatSeconds
	}
	if seconds < MinHeartbeatSeconds {
		return MinHeartbeatSeconds
	}
	if seconds > MaxHeartbeatSeconds {
		return MaxHeartbeatSeconds
	}
	return seconds
}

// clampHeartbeat is ClampHeartbeat generalized to this Engine's
// (possibly config-overridden) bounds.
func (e *Engine) clampHeartbeat(seconds int) int {
	if seconds == 0 {
		return e.DefaultHeartbeatSeconds
	}
	if seconds < e.MinHeartbeatSeconds {
		return e.MinHeartbeatSeconds
	}
	if seconds > e.MaxHeartbeatSeconds {
		return e.MaxHeartbeatSeconds
	}
	return seconds
}

// Resolve subscribes to the requested folders, then waits for either a
// change notification or the heartbeat timeout, whichever comes first.
// It returns (nil, false) on context cancellation (client disconnect):
// the caller MUST send no response in that case, per spec §4.7 step 5.
// Unsubscribe runs on every exit path.
func (e *Engine) Resolve(ctx context.Context, user string, req *eas.PingRequest) ([]byte, bool) {
	seconds := e.clampHeartbeat(req.HeartbeatSeconds)
	log := e.Log.WithFields(logrus.Fields{"user": user, "heartbeat_seconds": seconds})

	handle, err := e.Mail.Subscribe(user, req.FolderIDs)
	if err != nil {
		log.WithError(err).Warn("ping: subscribe failed, falling back to heartbeat-only wait")
		return e.waitHeartbeatOnly(ctx, seconds)
	}
	defer e.Mail.Unsubscribe(handle)

	timer := e.Clock.After(secondsToDuration(seconds))

	select {
	case <-ctx.Done():
		log.Info("ping: client disconnected, unsubscribing without responding")
		return nil, false

	case changed, ok := <-handle.Changed():
		if !ok {
			return e.drainTimer(ctx, timer, log)
		}
		log.WithField("changed_folders", changed).Info("ping: folder change notification")
		return encodeChanged(changed), true

	case <-timer:
		log.Info("ping: heartbeat expired with no changes")
		return encodeNoChange(), true
	}
}

// drainTimer is reached only if the subscription's Changed channel was
// closed without ever firing (the store gave up watching); fall back to
// waiting out the remaining heartbeat.
func (e *Engine) drainTimer(ctx context.Context, timer <-chan time.Time, log *logrus.Entry) ([]byte, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case <-timer:
		log.Info("ping: heartbeat expired after subscription closed")
		return encodeNoChange(), true
	}
}

func (e *Engine) waitHeartbeatOnly(ctx context.Context, seconds int) ([]byte, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case <-e.Clock.After(secondsToDuration(seconds)):
		return encodeNoChange(), true
	}
}

func encodeChanged(folderIDs []string) []byte {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPPing, "Ping", true)
	w.ElemInt(wbxml.CPPing, "Status", int64(statusChanged))
	w.Start(wbxml.CPPing, "Folders", true)
	for _, id := range folderIDs {
		w.Elem(wbxml.CPPing, "Folder", id)
	}
	w.End() // Folders
	w.End() // Ping
	return w.Bytes()
}

func encodeNoChange() []byte {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPPing, "Ping", true)
	w.ElemInt(wbxml.CPPing, "Status", int64(statusNoop))
	w.End()
	return w.Bytes()
}
