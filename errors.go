package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// Error taxonomy of the core. Handlers map these onto HTTP statuses; the
// store returns them so the mapping stays in one place.
var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrAlreadyFinalized  = errors.New("session already finalized")
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

// writeError writes a {"message": ...} error body
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
