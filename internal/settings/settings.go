// Package settings emits the static WBXML Settings document the
// dispatcher returns for the Settings command (spec §4.5). Decoding
// Settings requests (DeviceInformation/Oof/UserInformation) is named
// in spec §4.1 as a decode-only concern with no behavior attached in
// this revision, so this package only ever writes.
package settings

import "github.com/opd-ai/goeas/internal/wbxml"

const statusSuccess = 1

// Resolve returns a minimal, always-successful Settings response
// acknowledging the device's DeviceInformation block.
func Resolve() []byte {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPSettings, "Settings", true)
	w.ElemInt(wbxml.CPSettings, "Status", statusSuccess)
	w.Start(wbxml.CPSettings, "DeviceInformation", true)
	w.ElemInt(wbxml.CPSettings, "Status", statusSuccess)
	w.End() // DeviceInformation
	w.End() // Settings
	return w.Bytes()
}
