package fhir

import (
	"encoding/json"
	"errors"
	"io"
)

// DecodeJSON reads exactly one JSON value from r. Numbers are kept as
// json.Number and anything but whitespace after the value is an error.
func DecodeJSON(r io.Reader) (interface{}, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after the JSON value")
	}
	return v, nil
}
