package api

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// multiResponse is one sub-request's outcome inside a multi batch.
type multiResponse struct {
	Path   string          `json:"path"`
	Status int             `json:"httpStatus"`
	Body   json.RawMessage `json:"body"`
}

// memResponseWriter captures a handler's reply for batch collection.
type memResponseWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newMemResponseWriter() *memResponseWriter {
	return &memResponseWriter{header: http.Header{}, status: http.StatusOK}
}

func (m *memResponseWriter) Header() http.Header { return m.header }

func (m *memResponseWriter) WriteHeader(status int) { m.status = status }

func (m *memResponseWriter) Write(b []byte) (int, error) { return m.body.Write(b) }

// handleMulti executes a list of sub-requests in order through the same
// routing table and collects their responses. Batches do not nest.
func (s *Server) handleMulti(w http.ResponseWriter, r *http.Request) {
	const action = "multi"
	var req struct {
		Requests []struct {
			Path string          `json:"path"`
			Body json.RawMessage `json:"body"`
		} `json:"requests"`
	}
	if !s.decode(w, r, action, &req) {
		return
	}
	if len(req.Requests) == 0 {
		fail(w, action, codeInvalid)
		return
	}

	router := s.Router()
	out := make([]multiResponse, 0, len(req.Requests))
	for _, sub := range req.Requests {
		if sub.Path == "" || sub.Path == "/multi" {
			out = append(out, multiResponse{
				Path:   sub.Path,
				Status: http.StatusLengthRequired,
				Body:   json.RawMessage(`{"status":"error","code":"INVALID","description":"malformed request"}`),
			})
			continue
		}
		inner, err := http.NewRequestWithContext(r.Context(),
			http.MethodPost, sub.Path, bytes.NewReader(sub.Body))
		if err != nil {
			out = append(out, multiResponse{Path: sub.Path, Status: http.StatusLengthRequired})
			continue
		}
		inner.Header.Set("Content-Type", "application/json")
		rec := newMemResponseWriter()
		router.ServeHTTP(rec, inner)
		out = append(out, multiResponse{
			Path:   sub.Path,
			Status: rec.status,
			Body:   json.RawMessage(rec.body.Bytes()),
		})
	}
	data(w, action, out)
}
