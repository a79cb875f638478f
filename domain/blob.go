package domain

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// blobJSON sorts map keys so equal values encode to equal blobs.
var blobJSON = sonic.ConfigStd

// Blob holds a field that is stored without a declared shape. The value is
// kept as JSON and converted at the storage boundary, so it crosses the relay
// unchanged. Database specific values (ObjectIDs, dates, decimals) are
// rendered as strings.
type Blob []byte

// NewBlob encodes v as a Blob.
func NewBlob(v any) (Blob, error) {
	data, err := blobJSON.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Blob(data), nil
}

// Decode unmarshals the blob into v.
func (b Blob) Decode(v any) error {
	if len(b) == 0 {
		return nil
	}
	return blobJSON.Unmarshal(b, v)
}

func (b Blob) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	return b, nil
}

func (b *Blob) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (b Blob) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if len(b) == 0 {
		return bsontype.Null, nil, nil
	}
	var v any
	if err := blobJSON.Unmarshal(b, &v); err != nil {
		return 0, nil, fmt.Errorf("blob is not valid json: %w", err)
	}
	return bson.MarshalValue(v)
}

func (b *Blob) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bsontype.Null || t == bsontype.Undefined {
		*b = nil
		return nil
	}
	var v any
	if err := (bson.RawValue{Type: t, Value: data}).Unmarshal(&v); err != nil {
		return fmt.Errorf("decode blob: %w", err)
	}
	out, err := blobJSON.Marshal(plainValue(v))
	if err != nil {
		return err
	}
	*b = out
	return nil
}

// plainValue converts decoded BSON values into types JSON renders
// without loss of meaning.
func plainValue(v any) any {
	switch val := v.(type) {
	case primitive.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = plainValue(e.Value)
		}
		return m
	case primitive.M:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = plainValue(e)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = plainValue(e)
		}
		return m
	case primitive.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = plainValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = plainValue(e)
		}
		return out
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		return val.String()
	case primitive.Binary:
		return val.Data
	case primitive.Null, primitive.Undefined:
		return nil
	default:
		return v
	}
}
