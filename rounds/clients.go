// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package rounds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labelmesh/labelrounds/models"
)

// trainRequest is the wire payload sent to the training service.
type trainRequest struct {
	ProjectID string                 `json:"project_id"`
	Labeled   []models.LabeledSample `json:"labeled"`
}

// HTTPTrainer calls an external training service over HTTP. The service
// is expected to block until training finishes and answer with a
// TrainResult body.
type HTTPTrainer struct {
	baseURL   string
	projectID string
	client    *http.Client
}

func NewHTTPTrainer(baseURL, projectID string) *HTTPTrainer {
	return &HTTPTrainer{
		baseURL:   baseURL,
		projectID: projectID,
		// Training is slow by nature; the per-call deadline belongs to
		// the caller's context, not the client.
		client: &http.Client{},
	}
}

func (t *HTTPTrainer) Train(ctx context.Context, labeled []models.LabeledSample) (models.TrainResult, error) {
	body, err := json.Marshal(trainRequest{ProjectID: t.projectID, Labeled: labeled})
	if err != nil {
		return models.TrainResult{}, fmt.Errorf("failed to encode train request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/train", bytes.NewReader(body))
	if err != nil {
		return models.TrainResult{}, fmt.Errorf("failed to build train request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return models.TrainResult{}, fmt.Errorf("trainer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.TrainResult{}, fmt.Errorf("trainer returned status %d", resp.StatusCode)
	}

	var result models.TrainResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.TrainResult{}, fmt.Errorf("failed to decode train result: %w", err)
	}
	return result, nil
}

// HTTPPublisher posts the final result bundle to an archive endpoint.
type HTTPPublisher struct {
	url    string
	client *http.Client
}

func NewHTTPPublisher(url string) *HTTPPublisher {
	return &HTTPPublisher{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPPublisher) Publish(ctx context.Context, bundle models.ResultBundle) (string, error) {
	body, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("failed to encode result bundle: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("publisher returned status %d", resp.StatusCode)
	}

	// Archive endpoints answer with a content reference; an empty body is
	// tolerated and treated as an unnamed archive.
	var ack struct {
		ContentID string `json:"content_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return "", nil
	}
	return ack.ContentID, nil
}

// LogEvents is the default Events sink. Lifecycle notifications go to
// the structured log and nowhere else.
type LogEvents struct {
	Logger *slog.Logger
}

func (e LogEvents) RoundAdvanced(round uint64) {
	e.Logger.Info("event: round advanced", "round", round)
}

func (e LogEvents) ProjectEnded(reason string) {
	e.Logger.Info("event: project ended", "reason", reason)
}
