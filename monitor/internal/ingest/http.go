package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

const maxPushBody = 10 << 20

// PushResult is the response body of a push request.
type PushResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// PushHandler accepts events over HTTP. The body is either one JSON object
// (which may span lines) or newline-delimited JSON.
type PushHandler struct {
	dec *Decoder
}

// NewPushHandler returns a handler feeding dec.
func NewPushHandler(dec *Decoder) *PushHandler {
	return &PushHandler{dec: dec}
}

func (h *PushHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}

	var res PushResult
	count := func(ok bool) {
		if ok {
			res.Accepted++
		} else {
			res.Rejected++
		}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return
	}
	if json.Valid(trimmed) {
		count(h.dec.Line(SourceHTTP, trimmed))
	} else {
		sc := bufio.NewScanner(bytes.NewReader(trimmed))
		sc.Buffer(make([]byte, 64*1024), maxPushBody)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			count(h.dec.Line(SourceHTTP, line))
		}
	}

	slog.Debug("ingest: push received", "accepted", res.Accepted, "rejected", res.Rejected)

	status := http.StatusAccepted
	if res.Accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
