// Package handler exposes the read-only HTTP surface of the pipeline:
// health, the candidate dashboard listing, and public key publication. The
// write path (accept/upload/finalize) belongs to the operating service, not
// to this surface.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/collapsinghierarchy/papervault/pkc/custodian"
	"github.com/collapsinghierarchy/papervault/service"
)

// Server holds the handler dependencies.
type Server struct {
	svc  *service.Service
	cust *custodian.Custodian
}

// New returns a ready Server instance.
func New(svc *service.Service, cust *custodian.Custodian) *Server {
	return &Server{svc: svc, cust: cust}
}

type candidateView struct {
	ID           string    `json:"id"`
	OriginatorID string    `json:"originator_id"`
	PaperNumber  string    `json:"paper_number"`
	Status       string    `json:"status"`
	Deadline     string    `json:"deadline"`
	TotalMarks   int       `json:"total_marks"`
	Score        *float64  `json:"score,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

type errorBody struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Candidates lists the selectable Uploaded submissions for a competition
// key, de-duplicated to the latest per originator.
func (s *Server) Candidates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing_key", "key query parameter is required")
		return
	}
	subs, err := s.svc.Candidates(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not list candidates")
		return
	}
	views := make([]candidateView, 0, len(subs))
	for i, sub := range subs {
		v := candidateView{
			ID:           sub.ID.String(),
			OriginatorID: sub.OriginatorID,
			PaperNumber:  paperNumber(i),
			Status:       sub.Status.String(),
			Deadline:     sub.Deadline.Format("2006-01-02"),
			TotalMarks:   sub.TotalMarks,
			UploadedAt:   sub.CreatedAt,
		}
		if sub.Score != nil {
			score := sub.Score.Score
			v.Score = &score
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// PublicKey serves an originator's public key in PEM form, creating the
// keypair on first request.
func (s *Server) PublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	originator := r.URL.Query().Get("originator")
	if originator == "" {
		writeError(w, http.StatusBadRequest, "missing_originator", "originator query parameter is required")
		return
	}
	pemBytes, err := s.cust.PublicKeyPEM(originator)
	if err != nil {
		if errors.Is(err, custodian.ErrBadOriginator) {
			writeError(w, http.StatusBadRequest, "bad_originator", "invalid originator id")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "could not load public key")
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(pemBytes)
}

func paperNumber(i int) string {
	return "Paper " + strconv.Itoa(i+1)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Code: code, Detail: detail})
}
