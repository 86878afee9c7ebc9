// Package http serves a read-only view of a running replicator: its status, its metadata, stored documents
// and a websocket stream of applied batches.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/autom8ter/docrepl/applier"
	"github.com/autom8ter/docrepl/errors"
	"github.com/autom8ter/docrepl/internal/stream"
	"github.com/autom8ter/docrepl/logger"
	"github.com/autom8ter/docrepl/metadata"
	"github.com/autom8ter/docrepl/model"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/autom8ter/docrepl/util"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// Status is a point in time view of the replicator
type Status struct {
	State           string           `json:"state"`
	JobID           string           `json:"jobId,omitempty"`
	FinishState     string           `json:"finishState,omitempty"`
	Error           string           `json:"error,omitempty"`
	Checkpoint      oplog.Checkpoint `json:"checkpoint"`
	MetadataVersion int64            `json:"metadataVersion"`
}

// Replicator is what the server exposes
type Replicator interface {
	Status(ctx context.Context) (Status, error)
	Metadata() *metadata.Snapshot
	Get(ctx context.Context, db, collection string, id gjson.Result) (*model.Document, error)
	Events() stream.Stream[applier.BatchApplied]
}

// Config configures the server
type Config struct {
	Addr string `json:"addr" validate:"required"`
}

// Server serves a Replicator over http
type Server struct {
	params   Config
	repl     Replicator
	logger   logger.Logger
	router   *mux.Router
	upgrader websocket.Upgrader
}

// New creates a server and registers its routes
func New(params Config, repl Replicator, log logger.Logger, mwares ...mux.MiddlewareFunc) (*Server, error) {
	if err := util.ValidateStruct(params); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		params:   params,
		repl:     repl,
		logger:   log,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
	s.router.Use(append([]mux.MiddlewareFunc{requestLogger(log)}, mwares...)...)
	s.router.HandleFunc("/status", s.statusHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/metadata", s.metadataHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/databases/{db}/collections/{collection}/docs/{id}", s.getDocHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/events", s.eventsHandler())
	return s, nil
}

// Handler returns the server's router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on the configured address until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	server := &http.Server{Addr: s.params.Addr, Handler: s.router}
	egp, ctx := errgroup.WithContext(ctx)
	egp.Go(func() error {
		s.logger.Info(ctx, "serving http", map[string]any{"addr": s.params.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	egp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return egp.Wait()
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(value)
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.repl.Status(r.Context())
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, status)
	}
}

func (s *Server) metadataHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.repl.Metadata())
	}
}

// parseID reads a path id as json so numeric ids can be addressed, anything else is a string id
func parseID(raw string) gjson.Result {
	if gjson.Valid(raw) {
		if id := gjson.Parse(raw); id.Type == gjson.Number || id.Type == gjson.String {
			return id
		}
	}
	return model.MustDocument(map[string]any{model.IDField: raw}).ID()
}

func (s *Server) getDocHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		doc, err := s.repl.Get(r.Context(), vars["db"], vars["collection"], parseID(vars["id"]))
		if err != nil {
			httpError(w, err)
			return
		}
		if doc == nil {
			httpError(w, errors.New(errors.NotFound, "document %s not found in %s.%s", vars["id"], vars["db"], vars["collection"]))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc.Bytes())
	}
}

func (s *Server) eventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error(r.Context(), "failed to upgrade events request", err, map[string]any{})
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		// the read loop notices the client going away
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()
		events := make(chan applier.BatchApplied, 64)
		if err := s.repl.Events().Pull(ctx, applier.EventsChannel, func(e applier.BatchApplied) (bool, error) {
			select {
			case events <- e:
				return true, nil
			case <-ctx.Done():
				return false, nil
			}
		}); err != nil {
			s.logger.Error(ctx, "failed to subscribe to events", err, map[string]any{})
			return
		}
		for {
			select {
			case <-ctx.Done():
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			case e := <-events:
				if err := conn.WriteJSON(&e); err != nil {
					return
				}
			}
		}
	}
}
