package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/triagestack/ticket-router/internal/cache"
	"github.com/triagestack/ticket-router/internal/models"
	"github.com/triagestack/ticket-router/internal/utils"
)

// HistoryRepo provides access to resolved historical tickets stored in a
// Weaviate similarity index. Similarity queries are read-through cached.
type HistoryRepo struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	cache      cache.Provider
	similarTTL time.Duration
}

// NewHistoryRepo constructs a Weaviate-backed history repository.
func NewHistoryRepo(endpoint, apiKey string, timeout time.Duration, cacheProvider cache.Provider, similarTTL time.Duration) *HistoryRepo {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if similarTTL < 0 {
		similarTTL = 0
	}
	return &HistoryRepo{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		similarTTL: similarTTL,
	}
}

// SimilarTickets returns the nearest historical tickets for the text,
// ordered by similarity descending. An unconfigured endpoint yields no
// candidates, which downstream stages treat as a cache miss.
func (r *HistoryRepo) SimilarTickets(ctx context.Context, text string, limit int) ([]models.SimilarTicket, error) {
	if r == nil {
		return nil, fmt.Errorf("history repo not initialised")
	}
	if r.endpoint == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	cacheKey := ""
	if r.similarTTL > 0 {
		cacheKey = similarTicketsKey(text, limit)
		if data, err := r.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.SimilarTicket
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	gql := map[string]any{
		"query": fmt.Sprintf(`{
          Get {
            TicketRecord(
              limit: %d
              nearText: {concepts: [%q]}
            ) {
              ticketId
              text
              actualDepartment
              resolutionSeconds
              satisfaction
              priorPredictionCorrect
              createdAt
              _additional { id certainty }
            }
          }
        }`, limit, text),
	}

	payload, err := json.Marshal(gql)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, utils.NewAppError("repo.SimilarTickets", "similarity query failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, utils.NewAppError("repo.SimilarTickets",
			fmt.Sprintf("similarity query returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil)
	}

	var response struct {
		Data struct {
			Get struct {
				TicketRecord []struct {
					TicketID               string  `json:"ticketId"`
					Text                   string  `json:"text"`
					ActualDepartment       string  `json:"actualDepartment"`
					ResolutionSeconds      float64 `json:"resolutionSeconds"`
					Satisfaction           float64 `json:"satisfaction"`
					PriorPredictionCorrect bool    `json:"priorPredictionCorrect"`
					CreatedAt              string  `json:"createdAt"`
					Additional             struct {
						ID        string  `json:"id"`
						Certainty float64 `json:"certainty"`
					} `json:"_additional"`
				} `json:"TicketRecord"`
			} `json:"Get"`
		} `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode similarity response: %w", err)
	}

	results := make([]models.SimilarTicket, 0, len(response.Data.Get.TicketRecord))
	for _, rec := range response.Data.Get.TicketRecord {
		createdAt, _ := time.Parse(time.RFC3339, rec.CreatedAt)
		id := rec.TicketID
		if id == "" {
			id = rec.Additional.ID
		}
		results = append(results, models.SimilarTicket{
			Record: models.HistoricalTicketRecord{
				ID:                     id,
				Text:                   rec.Text,
				ActualDepartment:       rec.ActualDepartment,
				ResolutionTime:         time.Duration(rec.ResolutionSeconds * float64(time.Second)),
				Satisfaction:           rec.Satisfaction,
				PriorPredictionCorrect: rec.PriorPredictionCorrect,
				CreatedAt:              createdAt,
			},
			Similarity: rec.Additional.Certainty,
		})
	}

	if r.similarTTL > 0 && cacheKey != "" && len(results) > 0 {
		if data, err := json.Marshal(results); err == nil {
			_ = r.cache.Set(ctx, cacheKey, data, r.similarTTL)
		}
	}

	return results, nil
}

// StoreRecord persists a resolved ticket so future similarity queries and
// RAG prompts can use its actual outcome.
func (r *HistoryRepo) StoreRecord(ctx context.Context, record models.HistoricalTicketRecord) error {
	if r == nil {
		return fmt.Errorf("history repo not initialised")
	}
	if r.endpoint == "" {
		return nil
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	payload := map[string]any{
		"class": "TicketRecord",
		"properties": map[string]any{
			"ticketId":               record.ID,
			"text":                   record.Text,
			"actualDepartment":       record.ActualDepartment,
			"resolutionSeconds":      record.ResolutionTime.Seconds(),
			"satisfaction":           record.Satisfaction,
			"priorPredictionCorrect": record.PriorPredictionCorrect,
			"createdAt":              createdAt.Format(time.RFC3339),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ticket record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/objects", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError("repo.StoreRecord", "store ticket record failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return utils.NewAppError("repo.StoreRecord",
			fmt.Sprintf("store ticket record returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil)
	}

	return nil
}

func similarTicketsKey(text string, limit int) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("history:similar:%d:%x", limit, h.Sum64())
}
