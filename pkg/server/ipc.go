package server

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/onephotolife/tagserve/pkg/config"
	"github.com/onephotolife/tagserve/pkg/normalize"
	"github.com/onephotolife/tagserve/pkg/search"
)

// SuggestRequest is one IPC message:
//
//	{"id": "req_001", "q": "yam", "l": 10}
type SuggestRequest struct {
	ID    string `msgpack:"id"`
	Query string `msgpack:"q"`
	Limit int    `msgpack:"l,omitempty"`
}

// SuggestHit is one row of an IPC response.
type SuggestHit struct {
	Key     string `msgpack:"k"`
	Display string `msgpack:"d"`
	Count   int64  `msgpack:"n"`
}

// SuggestResponse answers a request by ID with timing in milliseconds.
type SuggestResponse struct {
	ID        string       `msgpack:"id"`
	Hits      []SuggestHit `msgpack:"s"`
	Count     int          `msgpack:"c"`
	TimeTaken int64        `msgpack:"t"`
}

// IPCError carries a failed request's ID and an HTTP-style code.
type IPCError struct {
	ID    string `msgpack:"id"`
	Error string `msgpack:"e"`
	Code  int    `msgpack:"c"`
}

type ipcStatus struct {
	Status string `msgpack:"status"`
}

// IPC serves tag suggestions over a msgpack request/response stream,
// one message per request, for editor and desktop integrations that
// spawn the process and keep pipes open.
type IPC struct {
	backend     search.Backend
	dec         *msgpack.Decoder
	enc         *msgpack.Encoder
	maxQueryLen int
}

// NewIPC wires the loop to stdin/stdout.
func NewIPC(backend search.Backend, cfg *config.Config) *IPC {
	return newIPC(backend, cfg, os.Stdin, os.Stdout)
}

func newIPC(backend search.Backend, cfg *config.Config, in io.Reader, out io.Writer) *IPC {
	return &IPC{
		backend:     backend,
		dec:         msgpack.NewDecoder(in),
		enc:         msgpack.NewEncoder(out),
		maxQueryLen: cfg.Server.MaxQueryLen,
	}
}

// Start signals readiness and serves requests until the input stream
// closes.
func (s *IPC) Start() error {
	if err := s.enc.Encode(ipcStatus{Status: "ready"}); err != nil {
		return err
	}

	for {
		var req SuggestRequest
		if err := s.dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		s.handle(req)
	}
}

func (s *IPC) handle(req SuggestRequest) {
	if utf8.RuneCountInString(req.Query) > s.maxQueryLen {
		s.sendError(req.ID, "query too long", 400)
		return
	}
	q := strings.Trim(normalize.Normalize(req.Query), "# ")
	if q == "" {
		s.send(SuggestResponse{ID: req.ID, Hits: []SuggestHit{}})
		return
	}

	limit := req.Limit
	if limit < 1 {
		limit = 10
	}

	start := time.Now()
	hits, err := s.backend.Suggest(context.Background(), q, limit)
	if err != nil {
		s.sendError(req.ID, "suggestions unavailable", 503)
		return
	}

	out := make([]SuggestHit, len(hits))
	for i, h := range hits {
		out[i] = SuggestHit{Key: h.Key, Display: h.Display, Count: h.Count}
	}
	s.send(SuggestResponse{
		ID:        req.ID,
		Hits:      out,
		Count:     len(out),
		TimeTaken: time.Since(start).Milliseconds(),
	})
}

func (s *IPC) send(resp SuggestResponse) {
	if err := s.enc.Encode(resp); err != nil {
		// Stdout is gone; the loop will exit on the next read.
		return
	}
}

func (s *IPC) sendError(id, message string, code int) {
	_ = s.enc.Encode(IPCError{ID: id, Error: message, Code: code})
}
