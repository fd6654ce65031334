package xcm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/crypto"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// maxInboundBody caps the accepted envelope size.
const maxInboundBody = 1 << 20

// timestampSkew is the accepted clock drift on signed inbound requests.
const timestampSkew = 5 * time.Minute

// InvestSink accepts inbound investment instructions. Receive persists the
// deposit; Execute opens the position and may be retried later when it fails
// retryably.
type InvestSink interface {
	Receive(ctx context.Context, correlationID string, asset, owner common.Address, amount *big.Int, encodedParams []byte) error
	Execute(ctx context.Context, correlationID string) (domain.Position, error)
}

// ProceedsSink accepts inbound liquidation proceeds on the home ledger.
type ProceedsSink interface {
	ReceiveProceeds(ctx context.Context, correlationID string, amount *big.Int) error
}

// Receiver is the inbound side of the relayer channel: an HTTP handler that
// verifies the shared HMAC signature and routes envelopes by payload kind.
// Either sink may be nil when the process does not host that side; envelopes
// for a missing sink are rejected so the relayer can redeliver elsewhere.
type Receiver struct {
	auth     crypto.HMACAuth
	invests  InvestSink
	proceeds ProceedsSink
	logger   *slog.Logger
}

// NewReceiver creates a Receiver.
func NewReceiver(auth crypto.HMACAuth, invests InvestSink, proceeds ProceedsSink, logger *slog.Logger) *Receiver {
	return &Receiver{
		auth:     auth,
		invests:  invests,
		proceeds: proceeds,
		logger:   logger.With(slog.String("component", "xcm")),
	}
}

// ServeHTTP handles POST /v1/messages from the relayer. Redelivered
// envelopes are acknowledged without re-applying their effects; the stores'
// conditional writes make the dedup decision.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxInboundBody))
	if err != nil {
		http.Error(w, `{"error":"read body"}`, http.StatusBadRequest)
		return
	}

	if !r.verify(req, body) {
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, `{"error":"malformed envelope"}`, http.StatusBadRequest)
		return
	}

	status, err := r.deliver(req.Context(), env)
	if err != nil {
		r.logger.WarnContext(req.Context(), "inbound delivery failed",
			slog.String("message_ref", env.MessageRef),
			slog.String("kind", env.Kind),
			slog.String("error", err.Error()),
		)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
		return
	}

	r.logger.InfoContext(req.Context(), "message delivered",
		slog.String("message_ref", env.MessageRef),
		slog.String("kind", env.Kind),
	)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"message_ref":%q,"status":"delivered"}`, env.MessageRef)
}

// verify checks the X-Relayer-* signature headers and timestamp freshness.
func (r *Receiver) verify(req *http.Request, body []byte) bool {
	ts := req.Header.Get("X-Relayer-Timestamp")
	sig := req.Header.Get("X-Relayer-Signature")
	if ts == "" || sig == "" {
		return false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	drift := time.Since(time.Unix(unix, 0))
	if drift > timestampSkew || drift < -timestampSkew {
		return false
	}
	return r.auth.Verify(req.Method, req.URL.Path, string(body), ts, sig)
}

// deliver routes the envelope to its sink and maps sink errors onto HTTP
// statuses. Duplicate deliveries are acknowledged as success.
func (r *Receiver) deliver(ctx context.Context, env envelope) (int, error) {
	switch env.Kind {
	case "invest":
		if r.invests == nil {
			return http.StatusNotImplemented, fmt.Errorf("xcm: no invest sink on this node")
		}
		var p domain.InvestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return http.StatusBadRequest, fmt.Errorf("xcm: decode invest payload: %w", err)
		}
		if err := r.invests.Receive(ctx, p.CorrelationID, p.Asset, p.Owner, p.Amount, p.EncodedParams); err != nil {
			if errors.Is(err, domain.ErrDuplicateCorrelation) {
				return http.StatusOK, nil
			}
			return http.StatusBadRequest, err
		}
		// Execution failures leave the deposit pending; the sweep loop
		// retries, so the delivery itself is still acknowledged.
		if _, err := r.invests.Execute(ctx, p.CorrelationID); err != nil {
			r.logger.WarnContext(ctx, "execution deferred",
				slog.String("correlation_id", p.CorrelationID),
				slog.String("error", err.Error()),
			)
		}
		return http.StatusOK, nil

	case "return":
		if r.proceeds == nil {
			return http.StatusNotImplemented, fmt.Errorf("xcm: no proceeds sink on this node")
		}
		var p domain.ReturnPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return http.StatusBadRequest, fmt.Errorf("xcm: decode return payload: %w", err)
		}
		if err := r.proceeds.ReceiveProceeds(ctx, p.CorrelationID, p.Amount); err != nil {
			if errors.Is(err, domain.ErrAlreadyClaimed) {
				return http.StatusOK, nil
			}
			if errors.Is(err, domain.ErrNotFound) {
				return http.StatusNotFound, err
			}
			return http.StatusBadRequest, err
		}
		return http.StatusOK, nil

	default:
		return http.StatusBadRequest, fmt.Errorf("xcm: unknown payload kind %q", env.Kind)
	}
}
