// Package collectortest provides an in-process collector speaking the resumable upload protocol,
// for tests and local runs of the synchronisation.
package collectortest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sensorsync/go-collector-sync/upload"
)

// APIPrefix is the path the collector API is mounted at.
const APIPrefix = "/api/v4"

type session struct {
	measurement string
	total       int64
	data        []byte
}

// Server is a fake collector. The zero value is not usable, create it with NewServer.
type Server struct {
	*httptest.Server

	token  string
	logger log.Logger

	mu              sync.Mutex
	sessions        map[string]*session
	completed       map[string][]byte
	requests        []string
	failNextUploads int
	rejectAll       bool
}

// NewServer starts a collector accepting the bearer token. Close it when done.
func NewServer(token string, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewLogger()
	}

	s := &Server{
		token:     token,
		logger:    logger,
		sessions:  map[string]*session{},
		completed: map[string][]byte{},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/measurements", s.handlePreRequest)
		r.Put("/measurements/sessions/{sessionID}", s.handleSession)
	})

	s.Server = httptest.NewServer(r)
	return s
}

// APIURL is the API root to configure the upload client with.
func (s *Server) APIURL() string {
	return s.URL + APIPrefix
}

// FailNextUploads makes the next n transfers store only half of their bytes and answer 500.
func (s *Server) FailNextUploads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextUploads = n
}

// RejectAnnouncements makes every pre-request answer 412.
func (s *Server) RejectAnnouncements(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAll = reject
}

// ExpireSessions drops all open sessions, as a server does once they time out.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if int64(len(sess.data)) < sess.total {
			delete(s.sessions, id)
		}
	}
}

// Received returns the payload of a completely uploaded measurement.
func (s *Server) Received(id upload.Identifier) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.completed[id.String()]
	return data, ok
}

// MarkCompleted stores a measurement as if it was uploaded earlier.
func (s *Server) MarkCompleted(id upload.Identifier, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[id.String()] = payload
}

// Requests returns the handled requests as "METHOD path status".
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// OpenSessions returns the number of sessions still waiting for data.
func (s *Server) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := 0
	for _, sess := range s.sessions {
		if int64(len(sess.data)) < sess.total {
			open++
		}
	}
	return open
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.mu.Lock()
			s.requests = append(s.requests, fmt.Sprintf("%s %s %d", r.Method, strings.TrimPrefix(r.URL.Path, APIPrefix), ww.Status()))
			s.mu.Unlock()
		}()

		if r.Header.Get("Authorization") != "Bearer "+s.token {
			http.Error(ww, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handlePreRequest(w http.ResponseWriter, r *http.Request) {
	var fields map[string]string
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		http.Error(w, fmt.Sprintf("decode metadata: %s", err), http.StatusBadRequest)
		return
	}

	id, err := upload.ParseIdentifier(fields["deviceId"] + ":" + fields["measurementId"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	total, err := strconv.ParseInt(r.Header.Get("x-upload-content-length"), 10, 64)
	if err != nil || total <= 0 {
		http.Error(w, "invalid x-upload-content-length", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rejectAll {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	if _, ok := s.completed[id.String()]; ok {
		w.WriteHeader(http.StatusConflict)
		return
	}

	sessionID := uuid.NewString()
	s.sessions[sessionID] = &session{measurement: id.String(), total: total}
	s.logger.Debugf("Opened session %s for measurement %s (%d bytes)", sessionID, id, total)

	w.Header().Set("Location", APIPrefix+"/measurements/sessions/"+sessionID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	start, end, total, err := parseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if total != sess.total {
		http.Error(w, fmt.Sprintf("announced %d bytes, got range of %d", sess.total, total), http.StatusBadRequest)
		return
	}

	if start < 0 {
		// Status request.
		s.writeProgress(w, sess, http.StatusOK)
		return
	}

	if start != int64(len(sess.data)) {
		http.Error(w, fmt.Sprintf("expected byte %d, got %d", len(sess.data), start), http.StatusBadRequest)
		return
	}
	if int64(len(body)) > end-start+1 {
		body = body[:end-start+1]
	}

	if s.failNextUploads > 0 {
		s.failNextUploads--
		sess.data = append(sess.data, body[:len(body)/2]...)
		http.Error(w, "connection reset", http.StatusInternalServerError)
		return
	}

	sess.data = append(sess.data, body...)
	s.writeProgress(w, sess, http.StatusCreated)
}

// writeProgress answers complete sessions with status, incomplete ones with 308 and the received range.
func (s *Server) writeProgress(w http.ResponseWriter, sess *session, status int) {
	received := int64(len(sess.data))
	if received < sess.total {
		if received > 0 {
			w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", received-1))
		}
		w.WriteHeader(http.StatusPermanentRedirect)
		return
	}

	s.completed[sess.measurement] = sess.data
	w.WriteHeader(status)
}

// parseContentRange reads "bytes */total" (start -1) and "bytes start-end/total".
func parseContentRange(header string) (start, end, total int64, err error) {
	spec, found := strings.CutPrefix(header, "bytes ")
	if !found {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}

	byteRange, size, found := strings.Cut(spec, "/")
	if !found {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}
	total, err = strconv.ParseInt(size, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range size: %w", err)
	}

	if byteRange == "*" {
		return -1, -1, total, nil
	}

	first, last, found := strings.Cut(byteRange, "-")
	if !found {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range start: %w", err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range end: %w", err)
	}
	if start > end || end >= total {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}
	return start, end, total, nil
}
