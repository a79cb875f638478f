package domain

import (
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ID is the public identifier of a stored entity. Database identifiers are
// carried in their string form, ObjectIDs as 24 character hex strings.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is empty. The BSON encoder uses it to
// honour omitempty on _id fields.
func (id ID) IsZero() bool { return id == "" }

// NormalizeID converts a database identifier of any supported type into its
// public string form.
func NormalizeID(v any) ID {
	switch id := v.(type) {
	case nil:
		return ""
	case ID:
		return id
	case string:
		return ID(id)
	case primitive.ObjectID:
		return ID(id.Hex())
	case *primitive.ObjectID:
		if id == nil {
			return ""
		}
		return ID(id.Hex())
	case int:
		return ID(strconv.Itoa(id))
	case int32:
		return ID(strconv.FormatInt(int64(id), 10))
	case int64:
		return ID(strconv.FormatInt(id, 10))
	case float64:
		return ID(strconv.FormatFloat(id, 'f', -1, 64))
	case fmt.Stringer:
		return ID(id.String())
	default:
		return ID(fmt.Sprint(id))
	}
}

// DatabaseValue returns the value used to address the entity in MongoDB.
// Hex strings of ObjectID length are treated as ObjectIDs.
func (id ID) DatabaseValue() any {
	if oid, err := primitive.ObjectIDFromHex(string(id)); err == nil {
		return oid
	}
	return string(id)
}

func (id ID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(id.DatabaseValue())
}

func (id *ID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var v any
	if err := (bson.RawValue{Type: t, Value: data}).Unmarshal(&v); err != nil {
		return fmt.Errorf("decode identifier: %w", err)
	}
	*id = NormalizeID(v)
	return nil
}
