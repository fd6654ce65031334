package xcm

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/crypto"
	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

type fakeInvestSink struct {
	receiveErr error
	executeErr error
	received   []string
	executed   []string
}

func (f *fakeInvestSink) Receive(_ context.Context, correlationID string, _, _ common.Address, _ *big.Int, _ []byte) error {
	if f.receiveErr != nil {
		return f.receiveErr
	}
	f.received = append(f.received, correlationID)
	return nil
}

func (f *fakeInvestSink) Execute(_ context.Context, correlationID string) (domain.Position, error) {
	if f.executeErr != nil {
		return domain.Position{}, f.executeErr
	}
	f.executed = append(f.executed, correlationID)
	return domain.Position{CorrelationID: correlationID}, nil
}

type fakeProceedsSink struct {
	err     error
	claimed []string
}

func (f *fakeProceedsSink) ReceiveProceeds(_ context.Context, correlationID string, _ *big.Int) error {
	if f.err != nil {
		return f.err
	}
	f.claimed = append(f.claimed, correlationID)
	return nil
}

func signedRequest(t *testing.T, auth crypto.HMACAuth, kind string, payload any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body, err := json.Marshal(envelope{
		MessageRef: "msg-1",
		ChainID:    2004,
		Kind:       kind,
		Payload:    raw,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, dispatchPath, bytes.NewReader(body))
	for k, v := range auth.RelayerHeaders(http.MethodPost, dispatchPath, string(body)) {
		req.Header.Set(k, v)
	}
	return req
}

func TestReceiverRoutesInvest(t *testing.T) {
	auth := crypto.HMACAuth{Key: "relayer-key", Secret: "relayer-secret"}
	invests := &fakeInvestSink{}
	rcv := NewReceiver(auth, invests, nil, testLogger())

	req := signedRequest(t, auth, "invest", domain.InvestPayload{
		CorrelationID: "corr-1",
		Asset:         common.HexToAddress("0x01"),
		Owner:         common.HexToAddress("0x02"),
		Amount:        big.NewInt(5000),
	})
	rec := httptest.NewRecorder()
	rcv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(invests.received) != 1 || invests.received[0] != "corr-1" {
		t.Errorf("received = %v, want [corr-1]", invests.received)
	}
	if len(invests.executed) != 1 || invests.executed[0] != "corr-1" {
		t.Errorf("executed = %v, want [corr-1]", invests.executed)
	}
}

func TestReceiverAcknowledgesDuplicateInvest(t *testing.T) {
	auth := crypto.HMACAuth{Key: "relayer-key", Secret: "relayer-secret"}
	invests := &fakeInvestSink{receiveErr: domain.ErrDuplicateCorrelation}
	rcv := NewReceiver(auth, invests, nil, testLogger())

	req := signedRequest(t, auth, "invest", domain.InvestPayload{
		CorrelationID: "corr-1",
		Amount:        big.NewInt(1),
	})
	rec := httptest.NewRecorder()
	rcv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate delivery status = %d, want 200", rec.Code)
	}
	if len(invests.executed) != 0 {
		t.Errorf("duplicate delivery must not re-execute, got %v", invests.executed)
	}
}

func TestReceiverAcknowledgesInvestWhenExecutionDefers(t *testing.T) {
	auth := crypto.HMACAuth{Key: "relayer-key", Secret: "relayer-secret"}
	invests := &fakeInvestSink{executeErr: domain.ErrInsufficientFunds}
	rcv := NewReceiver(auth, invests, nil, testLogger())

	req := signedRequest(t, auth, "invest", domain.InvestPayload{
		CorrelationID: "corr-1",
		Amount:        big.NewInt(1),
	})
	rec := httptest.NewRecorder()
	rcv.ServeHTTP(rec, req)

	// The deposit is persisted; the sweep loop retries the open later.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(invests.received) != 1 {
		t.Errorf("received = %v, want one record", invests.received)
	}
}

func TestReceiverRoutesReturn(t *testing.T) {
	auth := crypto.HMACAuth{Key: "relayer-key", Secret: "relayer-secret"}
	proceeds := &fakeProceedsSink{}
	rcv := NewReceiver(auth, nil, proceeds, testLogger())

	req := signedRequest(t, auth, "return", domain.ReturnPayload{
		CorrelationID: "corr-9",
		Amount:        big.NewInt(1234),
	})
	rec := httptest.NewRecorder()
	rcv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(proceeds.claimed) != 1 || proceeds.claimed[0] != "corr-9" {
		t.Errorf("claimed = %v, want [corr-9]", proceeds.claimed)
	}
}

func TestReceiverAcknowledgesAlreadyClaimedReturn(t *testing.T) {
	auth := crypto.HMACAuth{Key: "relayer-key", Secret: "relayer-secret"}
	proceeds := &fakeProceedsSink{err: domain.ErrAlreadyClaimed}
	rcv := NewReceiver(auth, nil, proceeds, testLogger())

	req := signedRequest(t, auth, "return", domain.ReturnPayload{
		CorrelationID: "corr-9",
		Amount:        big.NewInt(1),
	})
	rec := httptest.NewRecorder()
	rcv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("redelivered claim status = %d, want 200", rec.Code)
	}
}

func TestReceiverRejectsBadSignature(t *testing.T) {
	auth := crypto.HMACAuth{Key: "relayer-key", Secret: "relayer-secret"}
	rcv := NewReceiver(auth, &fakeInvestSink{}, nil, testLogger())

	req := signedRequest(t, crypto.HMACAuth{Key: "relayer-key", Secret: "wrong"}, "invest", domain.InvestPayload{
		CorrelationID: "corr-1",
		Amount:        big.NewInt(1),
	})
	rec := httptest.NewRecorder()
	rcv.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestReceiverRejectsMissingSink(t *testing.T) {
	auth := crypto.HMACAuth{Key: "relayer-key", Secret: "relayer-secret"}
	rcv := NewReceiver(auth, nil, nil, testLogger())

	req := signedRequest(t, auth, "invest", domain.InvestPayload{
		CorrelationID: "corr-1",
		Amount:        big.NewInt(1),
	})
	rec := httptest.NewRecorder()
	rcv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func TestReceiverRejectsUnknownKind(t *testing.T) {
	auth := crypto.HMACAuth{Key: "relayer-key", Secret: "relayer-secret"}
	rcv := NewReceiver(auth, &fakeInvestSink{}, &fakeProceedsSink{}, testLogger())

	req := signedRequest(t, auth, "rebalance", map[string]string{"noise": "yes"})
	rec := httptest.NewRecorder()
	rcv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
