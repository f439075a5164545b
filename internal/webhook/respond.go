package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/cxml"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/routing"
)

// jsonEnvelope is the reply shape on the asynchronous webhook paths.
type jsonEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes the asynchronous-path envelope.
func writeJSON(w http.ResponseWriter, status int, env any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("writing json response", "error", err)
	}
}

// writeDocument renders a call-control document. Always HTTP 200: the
// platform treats non-200 as a delivery failure and retries, which is
// never what a routing outcome means.
func writeDocument(w http.ResponseWriter, doc *cxml.Response) []byte {
	body, err := doc.Render()
	if err != nil {
		slog.Error("rendering call-control document", "error", err)
		body = []byte(xmlFallback)
	}
	w.Header().Set("Content-Type", cxml.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
	return body
}

// xmlFallback is the hand-built last-resort document used only when
// rendering itself fails.
const xmlFallback = `<?xml version="1.0" encoding="UTF-8"?>
<Response><Hangup></Hangup></Response>`

// spokenMessageFor maps a routing failure to what the caller hears. The
// messages are deliberately generic; detail goes to logs only.
func spokenMessageFor(kind routing.ErrorKind) string {
	switch kind {
	case routing.KindNotFound:
		return "The number you have dialed is not in service."
	case routing.KindRateLimited:
		return "All lines are currently busy. Please try again in a moment."
	default:
		return "We are unable to connect your call at this time. Please try again later."
	}
}

// httpStatusFor maps a routing failure to the asynchronous-path status code.
func httpStatusFor(kind routing.ErrorKind) int {
	switch kind {
	case routing.KindUnauthorized:
		return http.StatusUnauthorized
	case routing.KindStaleRequest:
		return http.StatusForbidden
	case routing.KindRateLimited:
		return http.StatusTooManyRequests
	case routing.KindNotFound:
		return http.StatusNotFound
	case routing.KindUnavailable, routing.KindLockTimeout:
		return http.StatusServiceUnavailable
	case routing.KindConfigurationError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
