// Package httpapi exposes the voice command pipeline over HTTP.
//
// The JSON endpoints mirror the pipeline's four entry points:
//
//	POST /v1/command — submit a transcript
//	POST /v1/resume  — answer a clarification question
//	POST /v1/confirm — answer a yes/no confirmation
//	POST /v1/cancel  — discard a parked command
//
// GET /v1/stream upgrades to a websocket and runs the same command cycle
// over a persistent connection, one JSON message per turn.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lessonbook/lessonbook/internal/schedule"
	"github.com/lessonbook/lessonbook/internal/voice"
)

// Pipeline is the subset of [voice.Pipeline] the API needs. Declared here so
// the server can sit in front of a hot-swappable pipeline.
type Pipeline interface {
	Handle(ctx context.Context, transcript, referenceDateKey string) (voice.Result, error)
	Resume(ctx context.Context, token, optionID string) (voice.Result, error)
	Confirm(ctx context.Context, token string, accept bool) (voice.Result, error)
	Cancel(ctx context.Context, token string) (voice.Result, error)
}

// Server handles the /v1 command endpoints.
type Server struct {
	pipeline Pipeline
	log      *slog.Logger
	now      func() time.Time
}

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the clock used to default the reference date.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates a command API server in front of pipeline.
func NewServer(pipeline Pipeline, opts ...ServerOption) *Server {
	s := &Server{
		pipeline: pipeline,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the /v1 command routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/command", s.handleCommand)
	mux.HandleFunc("POST /v1/resume", s.handleResume)
	mux.HandleFunc("POST /v1/confirm", s.handleConfirm)
	mux.HandleFunc("POST /v1/cancel", s.handleCancel)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
}

// commandRequest is the JSON body for the command endpoint.
type commandRequest struct {
	Transcript string `json:"transcript"`

	// ReferenceDate anchors relative dates ("tomorrow") as a YYYY-MM-DD
	// key. Defaults to the server's current date.
	ReferenceDate string `json:"reference_date"`
}

// resumeRequest is the JSON body for the resume endpoint.
type resumeRequest struct {
	Token    string `json:"token"`
	OptionID string `json:"option_id"`
}

// confirmRequest is the JSON body for the confirm endpoint.
type confirmRequest struct {
	Token  string `json:"token"`
	Accept bool   `json:"accept"`
}

// cancelRequest is the JSON body for the cancel endpoint.
type cancelRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Transcript == "" {
		http.Error(w, "transcript is required", http.StatusBadRequest)
		return
	}
	refDate, err := s.referenceDate(req.ReferenceDate)
	if err != nil {
		http.Error(w, "reference_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	res, err := s.pipeline.Handle(r.Context(), req.Transcript, refDate)
	s.respond(w, r, res, err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" || req.OptionID == "" {
		http.Error(w, "token and option_id are required", http.StatusBadRequest)
		return
	}

	res, err := s.pipeline.Resume(r.Context(), req.Token, req.OptionID)
	s.respond(w, r, res, err)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	res, err := s.pipeline.Confirm(r.Context(), req.Token, req.Accept)
	s.respond(w, r, res, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	res, err := s.pipeline.Cancel(r.Context(), req.Token)
	s.respond(w, r, res, err)
}

// respond writes res as JSON. Pipeline errors have already been folded into
// res.Status by the pipeline, so they log server-side but do not change the
// wire response beyond what res carries.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, res voice.Result, err error) {
	if err != nil {
		s.log.ErrorContext(r.Context(), "pipeline call failed", "err", err)
	}
	status := http.StatusOK
	if res.Status == voice.StatusError && err != nil {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(res); encErr != nil {
		s.log.ErrorContext(r.Context(), "encode response", "err", encErr)
	}
}

// referenceDate validates an explicit reference date or defaults to today.
func (s *Server) referenceDate(key string) (string, error) {
	if key == "" {
		return s.now().Format(schedule.DateKeyLayout), nil
	}
	if _, err := schedule.ParseDateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// streamRequest is one inbound websocket message. Type selects the pipeline
// entry point; the remaining fields follow the matching POST body.
type streamRequest struct {
	Type          string `json:"type"` // "command", "resume", "confirm", "cancel"
	Transcript    string `json:"transcript,omitempty"`
	ReferenceDate string `json:"reference_date,omitempty"`
	Token         string `json:"token,omitempty"`
	OptionID      string `json:"option_id,omitempty"`
	Accept        bool   `json:"accept,omitempty"`
}

// streamResponse is one outbound websocket message.
type streamResponse struct {
	voice.Result
	Error string `json:"error,omitempty"`
}

// handleStream runs the command cycle over a websocket. Each inbound message
// produces exactly one response; malformed messages get an error response
// and the connection stays open.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.WarnContext(r.Context(), "websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := r.Context()
	for {
		var req streamRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			s.log.DebugContext(ctx, "websocket read ended", "err", err)
			return
		}

		res, err := s.dispatch(ctx, req)
		out := streamResponse{Result: res}
		if err != nil {
			s.log.ErrorContext(ctx, "pipeline call failed", "type", req.Type, "err", err)
		}
		if writeErr := wsjson.Write(ctx, conn, out); writeErr != nil {
			s.log.DebugContext(ctx, "websocket write failed", "err", writeErr)
			return
		}
	}
}

// dispatch routes one stream message to the pipeline.
func (s *Server) dispatch(ctx context.Context, req streamRequest) (voice.Result, error) {
	switch req.Type {
	case "command":
		if req.Transcript == "" {
			return errorResult("transcript is required"), nil
		}
		refDate, err := s.referenceDate(req.ReferenceDate)
		if err != nil {
			return errorResult("reference_date must be YYYY-MM-DD"), nil
		}
		return s.pipeline.Handle(ctx, req.Transcript, refDate)
	case "resume":
		if req.Token == "" || req.OptionID == "" {
			return errorResult("token and option_id are required"), nil
		}
		return s.pipeline.Resume(ctx, req.Token, req.OptionID)
	case "confirm":
		if req.Token == "" {
			return errorResult("token is required"), nil
		}
		return s.pipeline.Confirm(ctx, req.Token, req.Accept)
	case "cancel":
		if req.Token == "" {
			return errorResult("token is required"), nil
		}
		return s.pipeline.Cancel(ctx, req.Token)
	default:
		return errorResult("unknown message type " + req.Type), nil
	}
}

func errorResult(msg string) voice.Result {
	return voice.Result{Status: voice.StatusError, Message: msg}
}
