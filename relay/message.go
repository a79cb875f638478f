package relay

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

// changeDoc is the subset of a MongoDB change event the relay reads.
type changeDoc struct {
	OperationType string        `bson:"operationType"`
	FullDocument  bson.RawValue `bson:"fullDocument"`
	DocumentKey   struct {
		ID domain.ID `bson:"_id"`
	} `bson:"documentKey"`
	NS struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
}

// toChangeEvent decodes the post-image into the typed entity of kind. The
// entity id falls back to the document key when the post-image lacks one.
func toChangeEvent(kind domain.Kind, doc changeDoc) (domain.ChangeEvent, error) {
	ev := domain.ChangeEvent{
		Operation:   domain.Op(doc.OperationType),
		Collection:  doc.NS.Coll,
		DocumentKey: doc.DocumentKey.ID,
	}
	if ev.Collection == "" {
		ev.Collection = kind.Collection
	}
	if doc.FullDocument.Type != bsontype.EmbeddedDocument {
		return ev, nil
	}
	ent := kind.New()
	if err := doc.FullDocument.Unmarshal(ent); err != nil {
		return ev, fmt.Errorf("decode %s document %s: %w", kind.Name, ev.DocumentKey, err)
	}
	if ent.EntityID() == "" {
		ent.SetEntityID(ev.DocumentKey)
	}
	ev.FullDocument = ent
	return ev, nil
}

// Message translates a change event into the message broadcast on channel.
// It reports false for operations that are not relayed and for inserts or
// updates without a post-image, which happens when the document was deleted
// before the server looked it up.
func Message(channel string, ev domain.ChangeEvent) (domain.RelayMessage, bool) {
	switch ev.Operation {
	case domain.OpInsert, domain.OpUpdate:
		if ev.FullDocument == nil {
			return domain.RelayMessage{}, false
		}
		return domain.RelayMessage{Channel: channel, Op: ev.Operation, Payload: ev.FullDocument}, true
	case domain.OpDelete:
		return domain.RelayMessage{Channel: channel, Op: domain.OpDelete, Payload: domain.DeleteKey{ID: ev.DocumentKey}}, true
	default:
		return domain.RelayMessage{}, false
	}
}
