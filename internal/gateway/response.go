package gateway

import (
	"encoding/json"
	"net/http"
)

// hop-by-hop and length headers are recomputed by net/http.
var skipHeaders = map[string]bool{
	"Connection":        true,
	"Content-Length":    true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Set-Cookie":        true,
}

// CopyResponse writes an upstream response to w with its status, headers and body unchanged.
func CopyResponse(w http.ResponseWriter, resp *Response) error {
	for key, values := range resp.Header {
		if skipHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, err := w.Write(resp.Body)
	return err
}

// CopyJSON writes a JSON upstream body verbatim with the given status.
func CopyJSON(w http.ResponseWriter, status int, body []byte) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(body)
	return err
}

// IsJSON reports whether the body parses as a JSON value.
func (r *Response) IsJSON() bool {
	return len(r.Body) > 0 && json.Valid(r.Body)
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}
