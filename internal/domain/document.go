package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
)

// ErrNotObject is returned when a JSON payload is not an object.
var ErrNotObject = errors.New("domain: payload is not a JSON object")

// DecodeDocument reads a JSON object. An empty body is an empty document. Whole numbers become int32 (or int64 when
// they overflow int32) so they are stored as BSON integers rather than doubles.
func DecodeDocument(r io.Reader) (Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, nil
		}
		return nil, err
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return Document(normalizeObject(obj)), nil
}

// DecodeObject converts an already decoded JSON value into a normalized object.
func DecodeObject(raw json.RawMessage) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return map[string]any{}, nil
	}
	doc, err := DecodeDocument(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DecodeValue reads any JSON value with the same number normalization as DecodeDocument.
func DecodeValue(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalize(v), nil
}

func normalizeObject(obj map[string]any) map[string]any {
	for k, v := range obj {
		obj[k] = normalize(v)
	}
	return obj
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeObject(t)
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			if i >= math.MinInt32 && i <= math.MaxInt32 {
				return int32(i)
			}
			return i
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	default:
		return v
	}
}
