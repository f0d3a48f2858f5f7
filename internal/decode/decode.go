// Package decode implements the targeted request decoders spec §4.1
// requires: Sync, FolderSync, Provision, Ping, and ItemOperations
// request bodies, extracted into the eas package's tagged request
// structs via internal/wbxml's recursive-descent Reader.
//
// Each decoder walks only the element paths it cares about; everything
// else is structurally skipped by the shared walk helper, matching the
// decoder contract's "unknown tags are skipped" rule.
package decode

import (
	"errors"
	"io"
	"strconv"

	"github.com/opd-ai/goeas/internal/body"
	"github.com/opd-ai/goeas/internal/eas"
	"github.com/opd-ai/goeas/internal/wbxml"
)

// ErrUnexpectedRoot is returned when a request body's outer element
// does not match the command being decoded.
var ErrUnexpectedRoot = errors.New("decode: unexpected root element")

// onChild reports whether it consumed the element itself (including
// its closing END); when it returns false, walk skips the element
// generically.
type onChild func(name string, content bool) (handled bool, err error)

// walk visits each child element at the reader's current depth until
// the matching END, delegating handling to fn and falling back to a
// structural skip for anything fn declines.
func walk(r *wbxml.Reader, fn onChild) error {
	for {
		el, err := r.NextElement()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if el == nil {
			return nil // matching END for this depth
		}
		handled, err := fn(el.Name, el.Content)
		if err != nil {
			return err
		}
		if handled {
			continue
		}
		if el.Content {
			if err := r.Skip(); err != nil {
				return err
			}
		}
	}
}

func openRoot(data []byte, want string) (*wbxml.Reader, error) {
	r, err := wbxml.NewReader(data)
	if err != nil {
		return nil, err
	}
	root, err := r.NextElement()
	if err != nil {
		return nil, err
	}
	if root == nil || root.Name != want {
		return nil, ErrUnexpectedRoot
	}
	return r, nil
}

func readText(r *wbxml.Reader) (string, error) {
	return r.ReadText()
}

// Sync decodes a Sync command request body (spec §4.1).
func Sync(data []byte) (*eas.SyncRequest, error) {
	r, err := openRoot(data, "Sync")
	if err != nil {
		return nil, err
	}
	req := &eas.SyncRequest{}
	err = walk(r, func(name string, content bool) (bool, error) {
		if name != "Collections" {
			return false, nil
		}
		return true, walk(r, func(name string, content bool) (bool, error) {
			if name != "Collection" {
				return false, nil
			}
			return true, decodeCollection(r, req)
		})
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func decodeCollection(r *wbxml.Reader, req *eas.SyncRequest) error {
	return walk(r, func(name string, content bool) (bool, error) {
		switch name {
		case "SyncKey":
			s, err := readText(r)
			if err != nil {
				return true, err
			}
			req.ClientKey = s
			return true, nil
		case "CollectionId":
			s, err := readText(r)
			if err != nil {
				return true, err
			}
			req.CollectionID = s
			return true, nil
		case "WindowSize":
			s, err := readText(r)
			if err != nil {
				return true, err
			}
			if n, convErr := strconv.Atoi(s); convErr == nil {
				req.WindowSize = n
			}
			return true, nil
		case "Options":
			return true, walk(r, func(name string, content bool) (bool, error) {
				if name != "BodyPreference" {
					return false, nil
				}
				pref, err := decodeBodyPreference(r)
				if err != nil {
					return true, err
				}
				req.BodyPreferences = append(req.BodyPreferences, pref)
				return true, nil
			})
		case "Commands":
			return true, walk(r, func(name string, content bool) (bool, error) {
				switch name {
				case "Fetch":
					id, err := readServerID(r)
					if err != nil {
						return true, err
					}
					req.FetchServerIDs = append(req.FetchServerIDs, id)
					return true, nil
				case "Delete":
					id, err := readServerID(r)
					if err != nil {
						return true, err
					}
					req.DeleteServerIDs = append(req.DeleteServerIDs, id)
					return true, nil
				}
				return false, nil
			})
		}
		return false, nil
	})
}

func readServerID(r *wbxml.Reader) (string, error) {
	var id string
	err := walk(r, func(name string, content bool) (bool, error) {
		if name != "ServerId" {
			return false, nil
		}
		s, err := readText(r)
		if err != nil {
			return true, err
		}
		id = s
		return true, nil
	})
	return id, err
}

func decodeBodyPreference(r *wbxml.Reader) (body.Preference, error) {
	var pref body.Preference
	err := walk(r, func(name string, content bool) (bool, error) {
		switch name {
		case "Type":
			s, err := readText(r)
			if err != nil {
				return true, err
			}
			n, _ := strconv.Atoi(s)
			pref.Type = body.Kind(n)
			return true, nil
		case "TruncationSize":
			s, err := readText(r)
			if err != nil {
				return true, err
			}
			if n, convErr := strconv.Atoi(s); convErr == nil {
				pref.TruncationSize = &n
			}
			return true, nil
		case "AllOrNone":
			s, err := readText(r)
			if err != nil {
				return true, err
			}
			pref.AllOrNone = s == "1"
			return true, nil
		}
		return false, nil
	})
	return pref, err
}

// FolderSync decodes a FolderSync command request body (spec §4.1).
func FolderSync(data []byte) (*eas.FolderSyncRequest, error) {
	r, err := openRoot(data, "FolderSync")
	if err != nil {
		return nil, err
	}
	req := &eas.FolderSyncRequest{ClientKey: "0"}
	err = walk(r, func(name string, content bool) (bool, error) {
		if name != "SyncKey" {
			return false, nil
		}
		s, err := readText(r)
		if err != nil {
			return true, err
		}
		req.ClientKey = s
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Provision decodes a Provision command request body. ClientPolicyKey
// stays nil unless a PolicyKey tag is found under Policies/Policy,
// implementing spec §4.1's phase-detection rule ("0" ⇒ acknowledgment).
func Provision(data []byte) (*eas.ProvisionRequest, error) {
	r, err := openRoot(data, "Provision")
	if err != nil {
		return nil, err
	}
	req := &eas.ProvisionRequest{}
	err = walk(r, func(name string, content bool) (bool, error) {
		if name != "Policies" {
			return false, nil
		}
		return true, walk(r, func(name string, content bool) (bool, error) {
			if name != "Policy" {
				return false, nil
			}
			return true, walk(r, func(name string, content bool) (bool, error) {
				if name != "PolicyKey" {
					return false, nil
				}
				s, err := readText(r)
				if err != nil {
					return true, err
				}
				req.ClientPolicyKey = &s
				return true, nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Ping decodes a Ping command request body (spec §4.1).
func Ping(data []byte) (*eas.PingRequest, error) {
	r, err := openRoot(data, "Ping")
	if err != nil {
		return nil, err
	}
	req := &eas.PingRequest{}
	err = walk(r, func(name string, content bool) (bool, error) {
		switch name {
		case "HeartbeatInterval":
			s, err := readText(r)
			if err != nil {
				return true, err
			}
			if n, convErr := strconv.Atoi(s); convErr == nil {
				req.HeartbeatSeconds = n
			}
			return true, nil
		case "Folders":
			return true, walk(r, func(name string, content bool) (bool, error) {
				if name != "Folder" {
					return false, nil
				}
				return true, walk(r, func(name string, content bool) (bool, error) {
					if name != "Id" {
						return false, nil
					}
					s, err := readText(r)
					if err != nil {
						return true, err
					}
					req.FolderIDs = append(req.FolderIDs, s)
					return true, nil
				})
			})
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ItemOperations decodes an ItemOperations command request body: a
// batch of Fetch entries (spec §4.1).
func ItemOperations(data []byte) (*eas.ItemOperationsRequest, error) {
	r, err := openRoot(data, "ItemOperations")
	if err != nil {
		return nil, err
	}
	req := &eas.ItemOperationsRequest{}
	err = walk(r, func(name string, content bool) (bool, error) {
		if name != "Fetch" {
			return false, nil
		}
		var entry eas.FetchEntry
		ferr := walk(r, func(name string, content bool) (bool, error) {
			switch name {
			case "CollectionId":
				s, err := readText(r)
				if err != nil {
					return true, err
				}
				entry.CollectionID = s
				return true, nil
			case "ServerId":
				s, err := readText(r)
				if err != nil {
					return true, err
				}
				entry.ServerID = s
				return true, nil
			case "Options":
				return true, walk(r, func(name string, content bool) (bool, error) {
					if name != "BodyPreference" {
						return false, nil
					}
					pref, err := decodeBodyPreference(r)
					if err != nil {
						return true, err
					}
					entry.BodyPreferences = append(entry.BodyPreferences, pref)
					return true, nil
				})
			}
			return false, nil
		})
		if ferr != nil {
			return true, ferr
		}
		req.Fetches = append(req.Fetches, entry)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}
