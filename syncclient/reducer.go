package syncclient

import (
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

// Document is a cached entity as served by the API, keyed by its "id" field.
type Document map[string]any

// ID returns the public identifier of d.
func (d Document) ID() domain.ID {
	return domain.NormalizeID(d["id"])
}

// Message is one incremental change for a collection. Delete messages carry
// only the id.
type Message struct {
	Op  domain.Op
	Doc Document
}

// Apply returns list with msg applied; list itself is not modified.
//
// Inserts are prepended, so the newest document comes first. An insert for
// an id that is already cached replaces that entry in place, which keeps ids
// unique when a message is delivered twice or races the bulk fetch. Updates
// and deletes for ids that are not cached leave the list unchanged.
func Apply(list []Document, msg Message) []Document {
	id := msg.Doc.ID()
	idx := -1
	if id != "" {
		for i, d := range list {
			if d.ID() == id {
				idx = i
				break
			}
		}
	}

	switch msg.Op {
	case domain.OpInsert:
		if idx >= 0 {
			return replaceAt(list, idx, msg.Doc)
		}
		out := make([]Document, 0, len(list)+1)
		out = append(out, msg.Doc)
		return append(out, list...)
	case domain.OpUpdate:
		if idx < 0 {
			return list
		}
		return replaceAt(list, idx, msg.Doc)
	case domain.OpDelete:
		if idx < 0 {
			return list
		}
		out := make([]Document, 0, len(list)-1)
		out = append(out, list[:idx]...)
		return append(out, list[idx+1:]...)
	default:
		return list
	}
}

func replaceAt(list []Document, idx int, doc Document) []Document {
	out := make([]Document, len(list))
	copy(out, list)
	out[idx] = doc
	return out
}
