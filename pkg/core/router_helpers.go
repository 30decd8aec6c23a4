package core

import (
	"net/http"

	"github.com/joeydtaylor/composr/pkg/codec"
	"github.com/joeydtaylor/composr/pkg/fault"
)

func writeJSON(w http.ResponseWriter, v any, status int) {
	payload, err := codec.JSON.Marshal(v)
	if err != nil {
		fault.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", codec.JSON.ContentType())
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
