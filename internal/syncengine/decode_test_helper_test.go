package syncengine

import (
	"strconv"

	"github.com/opd-ai/goeas/internal/wbxml"
)

// decodedSync is a minimal test-only view of an encoded Sync response,
// used to assert the engine's wire output without duplicating the full
// decoder the dispatcher will eventually own.
type decodedSync struct {
	syncKey       string
	status        int
	addIDs        []int64
	moreAvailable bool
}

func decodeSync(data []byte) (decodedSync, error) {
	r, err := wbxml.NewReader(data)
	if err != nil {
		return decodedSync{}, err
	}
	var out decodedSync

	// Sync
	if _, err := r.NextElement(); err != nil {
		return out, err
	}
	// Collections
	if _, err := r.NextElement(); err != nil {
		return out, err
	}
	// Collection
	if _, err := r.NextElement(); err != nil {
		return out, err
	}

	for {
		el, err := r.NextElement()
		if err != nil {
			return out, err
		}
		if el == nil {
			break // matching END for Collection
		}
		switch el.Name {
		case "SyncKey":
			out.syncKey, err = r.ReadText()
		case "CollectionId", "Class":
			_, err = r.ReadText()
		case "Status":
			var s string
			s, err = r.ReadText()
			if err == nil {
				out.status, err = strconv.Atoi(s)
			}
		case "Commands":
			err = decodeCommands(r, &out)
		case "MoreAvailable":
			// Written via Writer.Empty: no content bit, nothing further to
			// consume for this element (no matching END byte was emitted).
			out.moreAvailable = true
		case "Responses":
			err = r.Skip()
		default:
			if el.Content {
				err = r.Skip()
			}
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func decodeCommands(r *wbxml.Reader, out *decodedSync) error {
	for {
		el, err := r.NextElement()
		if err != nil {
			return err
		}
		if el == nil {
			return nil
		}
		if el.Name != "Add" {
			if el.Content {
				if err := r.Skip(); err != nil {
					return err
				}
			}
			continue
		}
		for {
			child, err := r.NextElement()
			if err != nil {
				return err
			}
			if child == nil {
				break
			}
			if child.Name == "ServerId" {
				s, err := r.ReadText()
				if err != nil {
					return err
				}
				id, _ := strconv.ParseInt(s, 10, 64)
				out.addIDs = append(out.addIDs, id)
				continue
			}
			if child.Content {
				if err := r.Skip(); err != nil {
					return err
				}
			}
		}
	}
}
