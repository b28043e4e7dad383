package httpserver

import (
	"encoding/json"
	"errors"
	"io"
)

const maxBodyBytes = 64 << 10

// decodeJSON decodes one JSON object from r and closes it. Unknown fields
// and trailing data are rejected.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
