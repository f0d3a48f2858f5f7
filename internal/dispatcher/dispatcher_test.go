package dispatcher

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/goeas/internal/devicestore"
	"github.com/opd-ai/goeas/internal/foldersync"
	"github.com/opd-ai/goeas/internal/itemoperations"
	"github.com/opd-ai/goeas/internal/mailstore"
	"github.com/opd-ai/goeas/internal/ping"
	"github.com/opd-ai/goeas/internal/provision"
	"github.com/opd-ai/goeas/internal/syncengine"
	"github.com/opd-ai/goeas/internal/syncstore"
	"github.com/opd-ai/goeas/internal/wbxml"
)

func newTestDispatcher() (*Dispatcher, *mailstore.Store) {
	mail := mailstore.NewStore()
	devices := devicestore.NewStore()
	store := syncstore.NewStore()
	idempotent := syncstore.NewIdempotencyCache(64)

	d := New(
		syncengine.New(store, idempotent, mail, nil),
		foldersync.New(foldersync.NewStore(), nil),
		provision.New(devices, nil),
		ping.New(mail, mailstore.SystemClock{}, nil),
		itemoperations.New(mail, nil),
		devices,
		mailstore.StaticAuth{},
		nil,
	)
	return d, mail
}

func basicAuthHeader(user string) string {
	return "Basic " + basicToken(user, "ignored")
}

func basicToken(user, pass string) string {
	return encodeB64(user + ":" + pass)
}

func encodeB64(s string) string {
	const tbl = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	var out []byte
	b := []byte(s)
	for i := 0; i < len(b); i += 3 {
		var n uint32
		rem := len(b) - i
		n = uint32(b[i]) << 16
		if rem > 1 {
			n |= uint32(b[i+1]) << 8
		}
		if rem > 2 {
			n |= uint32(b[i+2])
		}
		out = append(out, tbl[(n>>18)&0x3F])
		out = append(out, tbl[(n>>12)&0x3F])
		if rem > 1 {
			out = append(out, tbl[(n>>6)&0x3F])
		} else {
			out = append(out, '=')
		}
		if rem > 2 {
			out = append(out, tbl[n&0x3F])
		} else {
			out = append(out, '=')
		}
	}
	return string(out)
}

func postASRequest(t *testing.T, srv *httptest.Server, cmd, deviceID string, body []byte) *http.Response {
	t.Helper()
	u := srv.URL + Path + "?" + url.Values{
		"Cmd":        {cmd},
		"DeviceId":   {deviceID},
		"DeviceType": {"iPhone"},
	}.Encode()
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", basicAuthHeader("alice"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestUnprovisionedDeviceIsGated(t *testing.T) {
	d, _ := newTestDispatcher()
	srv := httptest.NewServer(d.Router())
	defer srv.Close()

	w := wbxml.NewWriter()
	w.Start(wbxml.CPFolderHierarchy, "FolderSync", true)
	w.Elem(wbxml.CPFolderHierarchy, "SyncKey", "0")
	w.End()

	resp := postASRequest(t, srv, "FolderSync", "dev1", w.Bytes())
	defer resp.Body.Close()
	assert.Equal(t, 449, resp.StatusCode)
}

func TestProvisionTwoPhaseHandshakeUnblocksDevice(t *testing.T) {
	d, _ := newTestDispatcher()
	srv := httptest.NewServer(d.Router())
	defer srv.Close()

	phase1 := wbxml.NewWriter()
	phase1.Start(wbxml.CPProvision, "Provision", true)
	phase1.End()
	resp := postASRequest(t, srv, "Provision", "dev1", phase1.Bytes())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	phase2 := wbxml.NewWriter()
	phase2.Start(wbxml.CPProvision, "Provision", true)
	phase2.Start(wbxml.CPProvision, "Policies", true)
	phase2.Start(wbxml.CPProvision, "Policy", true)
	phase2.Elem(wbxml.CPProvision, "PolicyKey", "0")
	phase2.End()
	phase2.End()
	phase2.End()
	resp = postASRequest(t, srv, "Provision", "dev1", phase2.Bytes())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1234567890", resp.Header.Get("X-MS-PolicyKey"))
	resp.Body.Close()

	foldersync := wbxml.NewWriter()
	foldersync.Start(wbxml.CPFolderHierarchy, "FolderSync", true)
	foldersync.Elem(wbxml.CPFolderHierarchy, "SyncKey", "0")
	foldersync.End()
	resp = postASRequest(t, srv, "FolderSync", "dev1", foldersync.Bytes())
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOptionsOmitsSingularVersionHeader(t *testing.T) {
	d, _ := newTestDispatcher()
	srv := httptest.NewServer(d.Router())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+Path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "", resp.Header.Get("MS-ASProtocolVersion"))
	assert.NotEmpty(t, resp.Header.Get("MS-ASProtocolVersions"))
}

func TestNegotiateVersionEchoesSupportedHeader(t *testing.T) {
	got := negotiateVersion("14.0", "iPhone", DefaultSupportedVersions, "16.1", "14.1")
	assert.Equal(t, "14.0", got)
}

func TestNegotiateVersionFallsBackForLegacyDeviceType(t *testing.T) {
	got := negotiateVersion("", "PocketPC", DefaultSupportedVersions, "16.1", "14.1")
	assert.Equal(t, "14.1", got)
}

func TestNegotiateVersionDefaultsModernForUnknownDeviceType(t *testing.T) {
	got := negotiateVersion("", "", DefaultSupportedVersions, "16.1", "14.1")
	assert.Equal(t, "16.1", got)
}
