package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/microcosm-cc/bluemonday"
)

// Offers and payment accounts carry text written by other peers. Every
// string in a response passes through this policy.
var sanitizer = bluemonday.UGCPolicy()

func sanitizedJSONResponse(w http.ResponseWriter, i interface{}) {
	out, err := marshalAndSanitizeJSON(i)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

func marshalAndSanitizeJSON(i interface{}) ([]byte, error) {
	out, err := json.Marshal(i)
	if err != nil {
		return nil, err
	}
	return sanitizeJSON(out)
}

// sanitizeJSON strips html from the strings of a JSON document and
// drops null object members.
func sanitizeJSON(doc []byte) ([]byte, error) {
	d := json.NewDecoder(bytes.NewReader(doc))
	d.UseNumber()

	var v interface{}
	if err := d.Decode(&v); err != nil {
		return nil, err
	}
	return json.MarshalIndent(sanitize(v), "", "    ")
}

func sanitize(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return sanitizer.Sanitize(val)
	case map[string]interface{}:
		for k, elem := range val {
			if elem == nil {
				delete(val, k)
				continue
			}
			val[k] = sanitize(elem)
		}
	case []interface{}:
		for i, elem := range val {
			val[i] = sanitize(elem)
		}
	}
	return v
}
