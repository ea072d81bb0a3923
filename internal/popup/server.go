package popup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"near-onramp/pkg/broadcast"
	"near-onramp/pkg/polling"
	"near-onramp/pkg/protocol"
)

// ServerConfig configures the popup service.
type ServerConfig struct {
	ListenAddr string
	Production bool
	// PollInterval overrides the status polling interval for every session.
	PollInterval time.Duration
}

// Server is the popup service: it boots sessions from launch URLs, carries
// the embedder handshake over websocket and exposes the session admin
// surface the embedder's remote window handle is built on.
type Server struct {
	cfg     ServerConfig
	store   *Store
	prov    ProviderClient
	channel *broadcast.Channel

	upgrader websocket.Upgrader

	sessions *sessionRegistry
}

// NewServer wires the popup service together.
func NewServer(cfg ServerConfig, store *Store, prov ProviderClient, channel *broadcast.Channel) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		prov:    prov,
		channel: channel,
		upgrader: websocket.Upgrader{
			// Origin enforcement happens in the handshake, against the
			// origin the session was launched with.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: newSessionRegistry(),
	}
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/onramp", s.handleLaunch)
	r.Get("/ws", s.handleWebsocket)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Delete("/sessions/{id}", s.handleCloseSession)
	r.Post("/sessions/{id}/submit", s.handleSubmit)
	r.Post("/sessions/{id}/retry", s.handleRetry)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Router(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", s.cfg.ListenAddr).Info("popup service listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleLaunch boots a session from the launch URL query and persists it, so
// a later reload can recover the opener origin.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	sess, err := ParseLaunchQuery(r.URL.Query(), s.cfg.Production)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.store.SaveSession(sess); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.sessions.put(sess.ID, s.newRunner(sess))

	log.WithFields(log.Fields{
		"sessionId": sess.ID,
		"chain":     sess.Chain,
		"asset":     sess.Asset,
	}).Info("session launched")

	writeJSON(w, http.StatusOK, sess)
}

// handleWebsocket carries the handshake and the call stream for one session.
// A session unknown in memory but present in the store is a reloaded popup:
// its runner is rebuilt from the persisted state, origin included.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("sessionId query parameter is required"))
		return
	}

	runner, err := s.runnerFor(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sess := runner.Session()
	conn, err := protocol.EstablishPopup(r.Context(), protocol.NewWebsocketTransport(ws), protocol.Options{
		SessionID:  sess.ID,
		Origin:     sess.SDKOrigin,
		Production: s.cfg.Production,
		Handlers: map[protocol.Method]protocol.Handler{
			protocol.MethodStartFlow: func(payload []byte) error {
				var p protocol.StartFlowPayload
				if err := json.Unmarshal(payload, &p); err != nil {
					return err
				}
				return runner.HandleStartFlow(p)
			},
		},
	})
	if err != nil {
		log.WithError(err).WithField("sessionId", sess.ID).Warn("handshake failed")
		_ = ws.Close()
		return
	}

	runner.Attach(conn)
	if err := conn.Notify(protocol.MethodPopupReady, nil); err != nil {
		log.WithError(err).WithField("sessionId", sess.ID).Warn("could not announce readiness")
	}

	go func() {
		if err := conn.Serve(); err != nil {
			log.WithError(err).WithField("sessionId", sess.ID).Debug("embedder connection ended")
		}
	}()
}

// handleGetSession is the liveness probe behind the embedder's closed flag.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	runner, err := s.runnerFor(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": runner.Session(),
		"stage":   runner.Stage(),
	})
}

// handleCloseSession force-closes a session, the remote equivalent of the
// user dismissing the popup window.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	runner, ok := s.sessions.take(id)
	if ok {
		runner.HandleClose()
	}
	if err := s.store.DeleteSession(id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmit is the form submission standing in for the popup UI.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	runner, err := s.runnerFor(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	var input FormInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	quote, err := runner.SubmitForm(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"depositAddress": quote.DepositAddress,
		"depositMemo":    quote.DepositMemo,
		"amountIn":       quote.AmountInFormatted,
		"amountOut":      quote.AmountOutFormatted,
		"timeEstimate":   quote.TimeEstimateSec,
		"deadline":       quote.Deadline,
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	runner, err := s.runnerFor(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err := runner.Retry(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runnerFor returns the live runner, rebuilding one from the store for a
// reloaded session.
func (s *Server) runnerFor(sessionID string) (*Runner, error) {
	if runner, ok := s.sessions.get(sessionID); ok {
		return runner, nil
	}

	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	runner := s.newRunner(sess)
	s.sessions.put(sess.ID, runner)
	return runner, nil
}

func (s *Server) newRunner(sess *Session) *Runner {
	var opts []polling.Option
	if s.cfg.PollInterval > 0 {
		opts = append(opts, polling.WithInterval(s.cfg.PollInterval))
	}
	return NewRunner(sess, s.prov, s.channel, opts...)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("could not write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"message": err.Error()})
}
