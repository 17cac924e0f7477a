package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pipewatch/pipewatch/pipeline/internal/partition"
)

// SignalPayload is the body posted by the alert-dispatcher.
type SignalPayload struct {
	ReferenceDate string             `json:"reference_date"`
	Signals       []partition.Signal `json:"signals"`
}

// DispatchSignals posts the date's BUY and SELL signals to the signal
// webhook. Nothing is posted when there are none.
func DispatchSignals(ctx context.Context, env *Env, date string) (Result, error) {
	if env.SignalWebhook == "" {
		return Result{}, fmt.Errorf("alert-dispatcher: signal webhook %w", ErrNotConfigured)
	}
	sigs, err := env.Store.Signals(ctx, date)
	if err != nil {
		return Result{}, fmt.Errorf("alert-dispatcher: %w", err)
	}

	actionable := make([]partition.Signal, 0, len(sigs))
	for _, s := range sigs {
		if s.Action != ActionHold {
			actionable = append(actionable, s)
		}
	}
	if len(actionable) == 0 {
		return okResult(0), nil
	}

	body, err := json.Marshal(SignalPayload{ReferenceDate: date, Signals: actionable})
	if err != nil {
		return Result{}, fmt.Errorf("alert-dispatcher: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, env.SignalWebhook, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("alert-dispatcher: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := env.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("alert-dispatcher: http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("alert-dispatcher: webhook returned HTTP %d", resp.StatusCode)
	}
	return okResult(int64(len(actionable))), nil
}
