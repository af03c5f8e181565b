package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/KaramelBytes/surveylens/internal/conjoint"
	"github.com/KaramelBytes/surveylens/internal/factor"
	"github.com/KaramelBytes/surveylens/internal/session"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

type levelsRequest struct {
	Levels []string `json:"levels"`
}

type factorRequest struct {
	session.FactorConfig
	// Threshold overrides the server default when present.
	Threshold *float64 `json:"threshold,omitempty"`
}

type sessionInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Rows       int       `json:"rows"`
	Columns    []string  `json:"columns"`
	HadMissing bool      `json:"had_missing"`
	CreatedAt  time.Time `json:"created_at"`
}

type attributesResponse struct {
	*conjoint.AttributeSummary
	UnitPrice *float64 `json:"unit_price,omitempty"`
}

type adequacyResponse struct {
	Clean    analysis.CleanReport   `json:"clean"`
	Adequacy *factor.AdequacyResult `json:"adequacy"`
}

type factorResponse struct {
	*session.FactorResult
	Rotation string                        `json:"rotation"`
	Factors  []string                      `json:"factors"`
	Loadings map[string]map[string]float64 `json:"loadings"`
}

// createSession loads the request body as a table and opens a session on it.
// The filename query parameter selects the format, e.g. survey.xlsx or
// survey.csv.gz.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("filename")
	if name == "" {
		name = "upload.csv"
	}
	name = filepath.Base(name)

	body := http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	t, err := analysis.LoadReader(name, body, s.config.Load)
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.store.Create(t)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.sessions.Set(float64(s.store.Len()))

	log.Info().
		Str("session", sess.ID).
		Str("table", t.String()).
		Msg("Session created")
	writeJSON(w, http.StatusCreated, describe(sess))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, describe(sess))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.store.Delete(id) {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("session '%s' not found", id))
		return
	}
	s.metrics.sessions.Set(float64(s.store.Len()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fitConjoint(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req session.ConjointConfig
	if !decode(w, r, &req) {
		return
	}
	start := time.Now()
	res, err := sess.FitConjoint(req)
	s.metrics.observe("conjoint", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) defineAttributes(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req session.AttributeConfig
	if !decode(w, r, &req) {
		return
	}
	sum, unit, err := sess.DefineAttributes(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attributesResponse{AttributeSummary: sum, UnitPrice: unit})
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req levelsRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := sess.Predict(req.Levels)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) market(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	start := time.Now()
	mk, err := sess.Market()
	s.metrics.observe("market", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mk)
}

func (s *Server) product(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["product"]
	b, found, err := sess.Product(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("product '%s' not found", id))
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) match(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req levelsRequest
	if !decode(w, r, &req) {
		return
	}
	b, found, err := sess.Match(req.Levels)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeMessage(w, http.StatusNotFound, "no single product matches the given levels")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// adequacy runs Bartlett and KMO; exclude is a comma separated column list.
func (s *Server) adequacy(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var exclude []string
	if v := r.URL.Query().Get("exclude"); v != "" {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				exclude = append(exclude, c)
			}
		}
	}
	start := time.Now()
	res, rep, err := sess.Adequacy(exclude)
	s.metrics.observe("adequacy", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adequacyResponse{Clean: rep, Adequacy: res})
}

func (s *Server) fitFactor(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req factorRequest
	if !decode(w, r, &req) {
		return
	}
	threshold := s.config.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	start := time.Now()
	res, err := sess.FitFactor(req.FactorConfig, threshold)
	s.metrics.observe("factor", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, factorResponse{
		FactorResult: res,
		Rotation:     res.Model.Rotation(),
		Factors:      res.Model.FactorNames(),
		Loadings:     res.Model.LoadingTable(),
	})
}

// healthCheck returns server health status
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"sessions":  s.store.Len(),
		"timestamp": time.Now(),
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := mux.Vars(r)["id"]
	sess, ok := s.store.Get(id)
	if !ok {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("session '%s' not found", id))
		return nil, false
	}
	return sess, true
}

func describe(sess *session.Session) sessionInfo {
	t := sess.Table()
	return sessionInfo{
		ID:         sess.ID,
		Name:       t.Name,
		Rows:       t.Rows(),
		Columns:    t.Columns(),
		HadMissing: t.HasMissing(),
		CreatedAt:  sess.CreatedAt,
	}
}

// decode reads a JSON body into dst; an empty body leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

// statusFor maps analysis errors to HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, analysis.ErrLoad):
		return http.StatusBadRequest
	case errors.Is(err, analysis.ErrPrecondition), errors.Is(err, analysis.ErrDegenerate):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// outcomeFor labels a failed run for metrics.
func outcomeFor(err error) string {
	switch {
	case errors.Is(err, analysis.ErrPrecondition):
		return "precondition"
	case errors.Is(err, analysis.ErrDegenerate):
		return "degenerate"
	case errors.Is(err, analysis.ErrLoad):
		return "load"
	default:
		return "error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeMessage(w, status, err.Error())
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("encode response")
	}
}
