// Package xcm dispatches cross-ledger messages through a relayer. Dispatch
// makes exactly one delivery attempt and never retries. A returned error
// does not prove non-delivery: the request can reach the destination and
// the response be lost, so callers must reconcile rather than compensate.
package xcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/crypto"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

const dispatchPath = "/v1/messages"

// envelope is the wire format posted to the relayer. The destination's
// opaque encoding travels alongside the payload so the relayer can route
// without understanding either.
type envelope struct {
	MessageRef string          `json:"message_ref"`
	ChainID    uint64          `json:"chain_id"`
	Encoded    []byte          `json:"encoded"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
}

// Relayer posts payloads to a per-destination relayer endpoint, signed with
// the shared HMAC credentials.
type Relayer struct {
	auth   crypto.HMACAuth
	client *http.Client
	logger *slog.Logger
}

// NewRelayer creates a Relayer with a default 15-second HTTP timeout.
func NewRelayer(auth crypto.HMACAuth, logger *slog.Logger) *Relayer {
	return &Relayer{
		auth:   auth,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger.With(slog.String("component", "xcm")),
	}
}

// Dispatch posts the payload to the destination's relayer endpoint and
// returns a locally generated message reference. No retries: duplicate
// delivery is worse than loss for the receiving side's bookkeeping. An
// error leaves the outcome unknown; senders park the work for
// reconciliation instead of assuming non-delivery.
func (r *Relayer) Dispatch(ctx context.Context, dest domain.ChainDestination, payload domain.Payload) (string, error) {
	if dest.TransportAddr == "" {
		return "", fmt.Errorf("xcm: chain %d has no transport address", dest.ChainID)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("xcm: marshal %s payload: %w", payload.Kind(), err)
	}

	ref := uuid.New().String()
	body, err := json.Marshal(envelope{
		MessageRef: ref,
		ChainID:    dest.ChainID,
		Encoded:    dest.Encoded,
		Kind:       payload.Kind(),
		Payload:    raw,
	})
	if err != nil {
		return "", fmt.Errorf("xcm: marshal envelope: %w", err)
	}

	url := dest.TransportAddr + dispatchPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("xcm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.auth.RelayerHeaders(http.MethodPost, dispatchPath, string(body)) {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("xcm: post to chain %d: %w", dest.ChainID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("xcm: relayer for chain %d returned %d: %s", dest.ChainID, resp.StatusCode, string(respBody))
	}

	r.logger.InfoContext(ctx, "message dispatched",
		slog.String("message_ref", ref),
		slog.Uint64("chain_id", dest.ChainID),
		slog.String("kind", payload.Kind()),
	)
	return ref, nil
}

var _ domain.Transport = (*Relayer)(nil)
