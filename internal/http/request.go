package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes caps request bodies. The largest legitimate payload is an
// expense split across a dinner table, nowhere near a megabyte.
const maxBodyBytes = 1 << 20

// decodeJSON reads one JSON document from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty request body")
		}
		return fmt.Errorf("malformed JSON: %w", err)
	}

	// A second document means the client is confused; reject it.
	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
