package http

import (
	"encoding/json"
	"net/http"

	"github.com/autom8ter/docrepl/errors"
)

// httpError writes err with the status of its code
func httpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	e := errors.Extract(err)
	if cde := e.Code; cde >= 400 && cde < 600 {
		status = int(cde)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(e.RemoveError())
}
