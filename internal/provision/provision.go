// Package provision implements the two-phase PolicyKey handshake (spec
// §4.6): an initial request gets a permissive policy document back, and
// the acknowledgment flips the device record to provisioned.
//
// The phase shape mirrors the teacher's Noise handshake
// (WriteMessage/ReadMessage gated on which message number the peer is
// on), generalized from a cryptographic exchange to a plaintext
// policy-key exchange — this handler performs no cryptography.
package provision

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/goeas/internal/devicestore"
	"github.com/opd-ai/goeas/internal/eas"
	"github.com/opd-ai/goeas/internal/wbxml"
)

// FinalPolicyKey is the 10-digit key a device receives once it has
// acknowledged the policy document.
const FinalPolicyKey = "1234567890"

// Status mirrors the WBXML <Status> values this handler can emit.
const statusSuccess = 1

// Handler resolves Provision requests.
type Handler struct {
	Devices *devicestore.Store
	Log     *logrus.Logger
}

// New returns a Handler. log may be nil.
func New(devices *devicestore.Store, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{Devices: devices, Log: log}
}

// Resolve implements the two-phase handshake. ClientPolicyKey nil means
// the initial request (Phase 1); ClientPolicyKey == "0" means the
// acknowledgment (Phase 2).
func (h *Handler) Resolve(user, deviceID, deviceType string, req *eas.ProvisionRequest) []byte {
	isAck := req.ClientPolicyKey != nil && *req.ClientPolicyKey == "0"

	if isAck {
		h.Log.WithFields(logrus.Fields{"user": user, "device_id": deviceID}).Info("provision: phase 2 ack, marking provisioned")
		h.Devices.MarkProvisioned(user, deviceID, FinalPolicyKey)
		return encodePhase2()
	}

	h.Log.WithFields(logrus.Fields{"user": user, "device_id": deviceID}).Info("provision: phase 1, emitting policy document")
	h.Devices.GetOrCreate(user, deviceID, deviceType)
	return encodePhase1()
}

func encodePhase1() []byte {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPProvision, "Provision", true)
	w.ElemInt(wbxml.CPProvision, "Status", statusSuccess)
	w.Start(wbxml.CPProvision, "Policies", true)
	w.Start(wbxml.CPProvision, "Policy", true)
	w.Elem(wbxml.CPProvision, "PolicyType", "MS-EAS-Provisioning-WBXML")
	w.ElemInt(wbxml.CPProvision, "Status", statusSuccess)
	w.Elem(wbxml.CPProvision, "PolicyKey", "0")
	w.Start(wbxml.CPProvision, "Data", true)
	writePolicyDocument(w)
	w.End() // Data
	w.End() // Policy
	w.End() // Policies
	w.End() // Provision
	return w.Bytes()
}

func encodePhase2() []byte {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPProvision, "Provision", true)
	w.ElemInt(wbxml.CPProvision, "Status", statusSuccess)
	w.Start(wbxml.CPProvision, "Policies", true)
	w.Start(wbxml.CPProvision, "Policy", true)
	w.Elem(wbxml.CPProvision, "PolicyType", "MS-EAS-Provisioning-WBXML")
	w.ElemInt(wbxml.CPProvision, "Status", statusSuccess)
	w.Elem(wbxml.CPProvision, "PolicyKey", FinalPolicyKey)
	w.End() // Policy
	w.End() // Policies
	w.End() // Provision
	return w.Bytes()
}

// policyField is one permissive-policy entry (spec §6's Policy
// Document field list), in emission order.
type policyField struct {
	name  string
	value int64
}

var permissivePolicy = []policyField{
	{"DevicePasswordEnabled", 0},
	{"AlphanumericDevicePasswordRequired", 0},
	{"PasswordRecoveryEnabled", 0},
	{"RequireDeviceEncryption", 0},
	{"AttachmentsEnabled", 1},
	{"MinDevicePasswordLength", 0},
	{"MaxInactivityTimeDeviceLock", 0},
	{"MaxDevicePasswordFailedAttempts", 0},
	{"MaxEmailAgeFilter", 0},
	{"AllowSimpleDevicePassword", 1},
	{"MaxAttachmentSize", 52428800},
	{"AllowStorageCard", 1},
	{"AllowCamera", 1},
	{"AllowUnsignedApplications", 1},
	{"AllowUnsignedInstallationPackages", 1},
	{"MinDevicePasswordComplexCharacters", 0},
	{"AllowWiFi", 1},
	{"AllowTextMessaging", 1},
	{"AllowPOPIMAPEmail", 1},
	{"AllowBluetooth", 2},
	{"AllowIrDA", 1},
	{"RequireManualSyncWhenRoaming", 0},
	{"AllowDesktopSync", 1},
	{"MaxCalendarAgeFilter", 0},
	{"AllowHTMLEmail", 1},
	{"MaxEmailBodyTruncationSize", -1},
	{"MaxEmailHTMLBodyTruncationSize", -1},
	{"RequireSignedSMIMEMessages", 0},
	{"RequireEncryptedSMIMEMessages", 0},
	{"RequireSignedSMIMEAlgorithm", 0},
	{"RequireEncryptionSMIMEAlgorithm", 0},
	{"AllowSMIMEEncryptionAlgorithmNegotiation", 2},
	{"AllowSMIMESoftCerts", 1},
	{"AllowBrowser", 1},
	{"AllowConsumerEmail", 1},
	{"AllowRemoteDesktop", 1},
	{"AllowInternetSharing", 1},
}

func writePolicyDocument(w *wbxml.Writer) {
	w.Start(wbxml.CPProvision, "EASProvisionDoc", true)
	for _, f := range permissivePolicy {
		w.ElemInt(wbxml.CPProvision, f.name, f.value)
	}
	w.End()
}
