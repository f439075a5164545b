package webhook

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// maxBodySize bounds what a webhook delivery may carry.
const maxBodySize = 1 << 20

// callParams are the fields of a call-control webhook. The platform sends
// them form-urlencoded in the body; query parameters also work, which the
// continuation callback relies on.
type callParams struct {
	From      string
	To        string
	CallID    string
	Direction string
	Domain    string

	// Continuation state on the /webhooks/ivr callback.
	Position   int
	DialStatus string
	Digits     string
}

// parseCallParams merges body form fields with query parameters. rawBody
// was already read for signature and idempotency purposes, so the body is
// parsed from it rather than re-read from the request.
func parseCallParams(r *http.Request, rawBody []byte) callParams {
	values := url.Values{}
	if ct := r.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if parsed, err := url.ParseQuery(string(rawBody)); err == nil {
			values = parsed
		}
	}
	query := r.URL.Query()
	get := func(keys ...string) string {
		for _, k := range keys {
			if v := values.Get(k); v != "" {
				return v
			}
			if v := query.Get(k); v != "" {
				return v
			}
		}
		return ""
	}

	p := callParams{
		From:       get("From", "from", "caller"),
		To:         get("To", "to", "destination"),
		CallID:     get("CallSid", "call_id", "session"),
		Direction:  get("Direction", "direction"),
		Domain:     get("Domain", "domain"),
		DialStatus: get("DialCallStatus", "dial_status"),
		Digits:     get("Digits", "digits"),
	}
	if pos := get("pos"); pos != "" {
		if n, err := strconv.Atoi(pos); err == nil && n >= 0 {
			p.Position = n
		}
	}
	return p
}

// statusPayload is the JSON body of a status or session event.
type statusPayload struct {
	CallID    string `json:"call_id"`
	Status    string `json:"status"`
	Caller    string `json:"caller,omitempty"`
	Callee    string `json:"callee,omitempty"`
	Domain    string `json:"domain,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// cdrPayload is the JSON body of a CDR delivery. Only the fields the
// engine summarizes are parsed; the raw body is archived verbatim.
type cdrPayload struct {
	Owner struct {
		Domain struct {
			UUID string `json:"uuid"`
		} `json:"domain"`
	} `json:"owner"`
	CallID      string `json:"call_id"`
	Direction   string `json:"direction"`
	Caller      string `json:"caller"`
	Callee      string `json:"callee"`
	StartTime   *int64 `json:"start_time"`
	AnswerTime  *int64 `json:"answer_time"`
	EndTime     *int64 `json:"end_time"`
	Duration    *int   `json:"duration"`
	Disposition string `json:"disposition"`
}
