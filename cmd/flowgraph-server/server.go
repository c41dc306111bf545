package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/flowgraph/pregelflow/internal/app/services"
	"github.com/flowgraph/pregelflow/internal/app/usecases"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/internal/core/graph"
	"github.com/flowgraph/pregelflow/internal/infrastructure/logging"
	"github.com/flowgraph/pregelflow/pkg/flowgraph"
)

// Runtime is the part of flowgraph.Runtime the server reads from.
type Runtime interface {
	Graphs(ctx context.Context) ([]string, error)
	Graph(ctx context.Context, name string) (*graph.CompiledGraph, error)
	State(ctx context.Context, req *flowgraph.StateRequest) (*flowgraph.StateView, error)
	History(ctx context.Context, req *flowgraph.HistoryRequest) ([]*flowgraph.StateView, error)
	Active(ctx context.Context) []flowgraph.RunInfo
}

// Server exposes health, metrics and read-only graph state over HTTP.
type Server struct {
	rt      Runtime
	router  *mux.Router
	metrics http.Handler
	logger  *zap.Logger
}

// NewServer routes the endpoints. metrics serves /metrics.
func NewServer(rt Runtime, metrics http.Handler) *Server {
	s := &Server{
		rt:      rt,
		router:  mux.NewRouter(),
		metrics: metrics,
		logger:  logging.Named("server"),
	}
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	})
	s.router.Use(c.Handler, s.logRequests)
	s.routes()
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	s.router.HandleFunc("/runs", s.handleActive).Methods(http.MethodGet)
	s.router.HandleFunc("/graphs", s.handleGraphs).Methods(http.MethodGet)
	s.router.HandleFunc("/graphs/{graph}", s.handleGraph).Methods(http.MethodGet)
	s.router.HandleFunc("/graphs/{graph}/threads/{thread}/state", s.handleState).Methods(http.MethodGet)
	s.router.HandleFunc("/graphs/{graph}/threads/{thread}/history", s.handleHistory).Methods(http.MethodGet)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Active(r.Context()))
}

type channelView struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Type     string `json:"type,omitempty"`
	Operator string `json:"operator,omitempty"`
}

type nodeView struct {
	ID       string   `json:"id"`
	Reads    []string `json:"reads,omitempty"`
	Writes   []string `json:"writes,omitempty"`
	Triggers []string `json:"triggers,omitempty"`
}

type graphView struct {
	Name            string        `json:"name"`
	Entry           string        `json:"entry"`
	MaxIterations   int           `json:"max_iterations,omitempty"`
	InterruptBefore []string      `json:"interrupt_before,omitempty"`
	InterruptAfter  []string      `json:"interrupt_after,omitempty"`
	Channels        []channelView `json:"channels,omitempty"`
	Nodes           []nodeView    `json:"nodes"`
}

func describe(g *graph.CompiledGraph, full bool) graphView {
	cfg := g.Config()
	v := graphView{
		Name:            g.Name(),
		Entry:           g.EntryPoint(),
		MaxIterations:   cfg.MaxIterations,
		InterruptBefore: cfg.InterruptBefore,
		InterruptAfter:  cfg.InterruptAfter,
	}
	for i := range g.NodeCount() {
		n := g.Node(i)
		nv := nodeView{ID: n.ID}
		if full {
			nv.Reads = refNames(n.Reads)
			nv.Writes = refNames(n.Writes)
			nv.Triggers = n.Triggers
		}
		v.Nodes = append(v.Nodes, nv)
	}
	if full {
		for _, spec := range g.Channels() {
			v.Channels = append(v.Channels, channelView{
				Name: spec.Name, Kind: string(spec.Kind), Type: string(spec.Type), Operator: string(spec.Operator),
			})
		}
	}
	return v
}

func refNames(refs []graph.ChannelRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Name
	}
	return out
}

func (s *Server) handleGraphs(w http.ResponseWriter, r *http.Request) {
	names, err := s.rt.Graphs(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]graphView, 0, len(names))
	for _, name := range names {
		g, err := s.rt.Graph(r.Context(), name)
		if err != nil {
			// Removed between List and Get.
			continue
		}
		out = append(out, describe(g, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.rt.Graph(r.Context(), mux.Vars(r)["graph"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(g, true))
}

func stateRequest(r *http.Request) flowgraph.StateRequest {
	vars := mux.Vars(r)
	q := r.URL.Query()
	return flowgraph.StateRequest{
		Graph:        vars["graph"],
		ThreadID:     vars["thread"],
		Namespace:    q.Get("checkpoint_ns"),
		CheckpointID: q.Get("checkpoint_id"),
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	req := stateRequest(r)
	view, err := s.rt.State(r.Context(), &req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := flowgraph.HistoryRequest{StateRequest: stateRequest(r)}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit: "+err.Error())
			return
		}
		req.Limit = n
	}
	if src, node := q.Get("source"), q.Get("node"); src != "" || node != "" {
		req.Filter = &checkpoint.Filter{Source: checkpoint.Source(src), Node: node}
		if err := req.Filter.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	views, err := s.rt.History(r.Context(), &req)
	if err != nil {
		s.fail(w, err)
		return
	}
	if views == nil {
		views = []*flowgraph.StateView{}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, code, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, graph.ErrGraphNotFound),
		errors.Is(err, services.ErrNoState),
		errors.Is(err, checkpoint.ErrCheckpointNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecases.ErrInvalidRequest),
		errors.Is(err, checkpoint.ErrInvalidThreadID),
		errors.Is(err, checkpoint.ErrInvalidLimit),
		errors.Is(err, checkpoint.ErrInvalidSource),
		errors.Is(err, checkpoint.ErrInvalidStepRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
