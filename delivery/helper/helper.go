package helper

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	types "github.com/desain-gratis/order-notifier/types/http"
)

func SetError(w http.ResponseWriter, body types.Error, code int) {
	errMessage := types.SerializeError(&types.CommonError{
		Errors: []types.Error{body},
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(errMessage)
}

// SetPlainError writes `{"error": message}`
func SetPlainError(w http.ResponseWriter, message string, code int) {
	WriteJSON(w, code, types.PlainError{Error: message})
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Err(err).Msgf("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(payload)
}

// HasRequiredFields reports whether every key has a non-empty value
func HasRequiredFields(form url.Values, requiredFields ...string) bool {
	for _, key := range requiredFields {
		if form.Get(key) == "" {
			return false
		}
	}
	return true
}

// ClientIP prefers the first X-Forwarded-For hop, then the remote address
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
