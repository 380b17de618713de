package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type ticketRecord struct {
	TicketID               string         `json:"ticketId"`
	Text                   string         `json:"text"`
	ActualDepartment       string         `json:"actualDepartment"`
	ResolutionSeconds      float64        `json:"resolutionSeconds"`
	Satisfaction           float64        `json:"satisfaction"`
	PriorPredictionCorrect bool           `json:"priorPredictionCorrect"`
	CreatedAt              string         `json:"createdAt"`
	Additional             map[string]any `json:"_additional"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/graphql", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		now := time.Now().UTC()
		writeJSON(w, map[string]any{
			"data": map[string]any{
				"Get": map[string]any{
					"TicketRecord": []ticketRecord{
						{
							TicketID:               "hist-001",
							Text:                   "my card was charged twice for the same order",
							ActualDepartment:       "billing_support",
							ResolutionSeconds:      5400,
							Satisfaction:           0.9,
							PriorPredictionCorrect: true,
							CreatedAt:              now.Add(-48 * time.Hour).Format(time.RFC3339),
							Additional:             map[string]any{"id": "hist-001", "certainty": 0.93},
						},
						{
							TicketID:               "hist-002",
							Text:                   "invoice shows a duplicate line item",
							ActualDepartment:       "billing_support",
							ResolutionSeconds:      7200,
							Satisfaction:           0.8,
							PriorPredictionCorrect: true,
							CreatedAt:              now.Add(-72 * time.Hour).Format(time.RFC3339),
							Additional:             map[string]any{"id": "hist-002", "certainty": 0.84},
						},
						{
							TicketID:               "hist-003",
							Text:                   "cannot access my dashboard after the update",
							ActualDepartment:       "technical_support",
							ResolutionSeconds:      14400,
							Satisfaction:           0.7,
							PriorPredictionCorrect: false,
							CreatedAt:              now.Add(-24 * time.Hour).Format(time.RFC3339),
							Additional:             map[string]any{"id": "hist-003", "certainty": 0.61},
						},
					},
				},
			},
		})
	})

	mux.HandleFunc("/v1/objects", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		log.Printf("stored object: %v", payload["properties"])
		writeJSON(w, map[string]any{"status": "created"})
	})

	logger := log.New(log.Writer(), "history-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8081",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8081")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
