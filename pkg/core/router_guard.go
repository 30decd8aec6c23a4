package core

import (
	"net/http"

	"github.com/joeydtaylor/composr/pkg/fault"
	"github.com/joeydtaylor/composr/pkg/middleware/auth"
)

// withCaller rejects requests without a resolved caller domain.
func withCaller(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.CallerFrom(r.Context()); !ok {
			fault.Write(w, fault.New(fault.KindUnauthorized, "no caller domain"))
			return
		}
		next(w, r)
	}
}
