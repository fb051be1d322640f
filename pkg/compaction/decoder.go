package compaction

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Decoder converts opaque compaction-state documents into typed values.
// Stored states carry their polymorphic sub-fields as key-value trees; the
// planner decodes them on demand and never assumes a particular binding form.
type Decoder interface {
	Decode(doc any, into any) error
}

type jsonDecoder struct {
	api jsoniter.API
}

// NewJSONDecoder returns the default Decoder, backed by a JSON round-trip.
func NewJSONDecoder() Decoder {
	return &jsonDecoder{api: jsoniter.ConfigCompatibleWithStandardLibrary}
}

func (d *jsonDecoder) Decode(doc any, into any) error {
	b, err := d.api.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	if err := d.api.Unmarshal(b, into); err != nil {
		return errors.Wrap(err, "decode document")
	}
	return nil
}

// normalize round-trips a value through the decoder so that documents from
// different sources (JSON, YAML, literals) compare structurally.
func normalize(d Decoder, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var out any
	if err := d.Decode(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}
