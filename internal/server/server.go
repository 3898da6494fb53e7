// Package server exposes the incident orchestrator over HTTP: gesture and
// cancel commands, state snapshots and a websocket state feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"crypto/subtle"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/lifelink/internal/core"
	"github.com/3cpo-dev/lifelink/internal/telemetry"
)

// Incident is the orchestrator surface the server drives.
type Incident interface {
	State() core.IncidentState
	Watch() (<-chan core.IncidentState, func())
	StartHold()
	EndHold()
	Cancel()
	SelectHospital(id string) error
}

type Server struct {
	Version  string
	Incident Incident
	Monitor  *telemetry.Monitor
	// Token, when set, is required on every incident endpoint, the state feed
	// included.
	Token string
	// AllowedOrigins lists extra browser origins (scheme://host[:port]) that
	// may open the websocket feed. Same-origin requests are always allowed.
	AllowedOrigins []string

	srv *http.Server
}

const writeWait = 5 * time.Second

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	return mux
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/v0/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeJSON(w, http.StatusOK, s.snapshot())
	})
	mux.HandleFunc("/v0/hold/start", s.command(func(r *http.Request) error {
		s.Incident.StartHold()
		return nil
	}))
	mux.HandleFunc("/v0/hold/end", s.command(func(r *http.Request) error {
		s.Incident.EndHold()
		return nil
	}))
	mux.HandleFunc("/v0/cancel", s.command(func(r *http.Request) error {
		s.Incident.Cancel()
		return nil
	}))
	mux.HandleFunc("/v0/hospital/select", s.command(func(r *http.Request) error {
		var req SelectHospitalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return badRequest{err}
		}
		if req.ID == "" {
			return badRequest{errors.New("id is required")}
		}
		return s.Incident.SelectHospital(req.ID)
	}))
	mux.HandleFunc("/v0/ws", s.handleWebSocket)
	if s.Monitor != nil {
		s.Monitor.Routes(mux)
	}
}

type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }

// command wraps a POST endpoint that mutates the incident and replies with
// the resulting state.
func (s *Server) command(fn func(r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !s.authorized(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := fn(r); err != nil {
			var br badRequest
			switch {
			case errors.As(err, &br):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, core.ErrUnknownHospital):
				writeError(w, http.StatusNotFound, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusOK, s.snapshot())
	}
}

func (s *Server) authorized(r *http.Request) bool {
	tok := s.Token
	if tok == "" {
		tok = os.Getenv("LIFELINK_SERVER_TOKEN")
	}
	if tok == "" {
		return true
	}
	given := r.Header.Get("X-Auth-Token")
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		given = bearer
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(tok)) == 1
}

// checkOrigin admits non-browser clients, same-origin pages and the
// configured allowlist.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range s.AllowedOrigins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

func (s *Server) snapshot() StateResponse {
	return StateResponse{Time: time.Now(), Version: s.Version, State: s.Incident.State()}
}

// handleWebSocket streams every state change to the client until either side
// closes the connection.
// Browsers cannot set headers on a websocket handshake, so the token may also
// arrive as the access_token query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if tok := r.URL.Query().Get("access_token"); tok != "" && r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+tok)
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	states, stop := s.Incident.Watch()
	defer stop()

	// The read pump only detects the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case st, ok := <-states:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(StateResponse{Time: time.Now(), Version: s.Version, State: st}); err != nil {
				log.Debug().Err(err).Msg("Websocket write failed")
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// ListenAndServe starts the server
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	log.Info().Str("addr", addr).Msg("Serving incident API")
	return s.srv.ListenAndServe()
}

// Shutdown the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return fmt.Errorf("server not running")
	}
	return s.srv.Shutdown(ctx)
}
