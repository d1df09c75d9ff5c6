// Package server wires the HTTP surface: room creation, the websocket
// session endpoint, export, and summarization.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Maheshnath09/duoreport/internal/document"
	"github.com/Maheshnath09/duoreport/internal/export"
	"github.com/Maheshnath09/duoreport/internal/room"
	"github.com/Maheshnath09/duoreport/internal/store"
	"github.com/Maheshnath09/duoreport/internal/summarize"
	"github.com/Maheshnath09/duoreport/internal/ws"
)

// Server holds the handlers and their collaborators.
type Server struct {
	registry   *room.Registry
	manager    *ws.Manager
	store      store.Store
	summarizer *summarize.Client
	ttl        time.Duration

	upgrader websocket.Upgrader
}

// New builds the server. ttl is the expiry applied when seeding a freshly
// created room's document.
func New(reg *room.Registry, mgr *ws.Manager, st store.Store, summarizer *summarize.Client, ttl time.Duration) *Server {
	return &Server{
		registry:   reg,
		manager:    mgr,
		store:      st,
		summarizer: summarizer,
		ttl:        ttl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router assembles the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogging)
	r.Methods(http.MethodPost).Path("/create_room").HandlerFunc(s.handleCreateRoom)
	r.Methods(http.MethodGet).Path("/ws/report/{room_id}").HandlerFunc(s.handleWebsocket)
	r.Methods(http.MethodGet).Path("/export/{room_id}").HandlerFunc(s.handleExport)
	r.Methods(http.MethodPost).Path("/summarize/{room_id}/{section}").HandlerFunc(s.handleSummarize)
	return r
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("handled", "method", r.Method, "url", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	roomID := uuid.NewString()[:8]
	data, err := document.EncodeSnapshot(document.NewSections())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to initialize document")
		return
	}
	if err := s.store.SetWithExpiry(r.Context(), store.Key(roomID), data, s.ttl); err != nil {
		slog.Error("seeding new room failed", "room", roomID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "document store not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"room_id": roomID})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "room", roomID, "error", err)
		return
	}
	s.manager.Serve(r.Context(), conn, roomID)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]
	sections, ok := s.sections(r.Context(), roomID)
	if !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	artifact, err := export.Render(roomID, sections)
	if err != nil {
		slog.Error("export render failed", "room", roomID, "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=report_%s.html", roomID))
	_, _ = w.Write(artifact)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomID, section := vars["room_id"], vars["section"]
	if !document.ValidSection(section) {
		writeError(w, http.StatusNotFound, "unknown section")
		return
	}
	sections, ok := s.sections(r.Context(), roomID)
	if !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	bullets, err := s.summarizer.Summarize(r.Context(), sections[section])
	if err != nil {
		// Degraded, not broken: the requester gets a readable fallback
		// and the room is untouched.
		slog.Warn("summarization failed", "room", roomID, "section", section, "error", err)
		bullets = []string{"Summary generation temporarily unavailable. Please try again."}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"summary": bullets})
}

// sections resolves a room's document: the live in-memory state when the
// room is hot, the persisted snapshot when it is cold.
func (s *Server) sections(ctx context.Context, roomID string) (map[string]string, bool) {
	if sections, err := s.registry.Snapshot(roomID); err == nil {
		return sections, true
	}
	data, err := s.store.Get(ctx, store.Key(roomID))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("store read failed", "room", roomID, "error", err)
		}
		return nil, false
	}
	sections, err := document.DecodeSnapshot(data)
	if err != nil {
		slog.Warn("persisted document unreadable", "room", roomID, "error", err)
		return nil, false
	}
	return sections, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
