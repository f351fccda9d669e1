package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Freakkio/Sector7/internal/errors"
)

const (
	addrA = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	addrB = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func escrowReq(id string) EscrowRequest {
	return EscrowRequest{MatchID: id, P1: addrA, P2: addrB, Stake: decimal.RequireFromString("50")}
}

func TestCreateEscrow(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/match/start", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"Match created successfully","matchId":"m1","txHash":"0x111"}`))
	}))
	defer srv.Close()

	rec, err := NewClient(srv.URL+"/").CreateEscrow(context.Background(), escrowReq("m1"))
	require.NoError(t, err)
	assert.Equal(t, "0x111", rec.TxHash)
	assert.Equal(t, map[string]string{"matchId": "m1", "p1": addrA, "p2": addrB, "stake": "50"}, got)
}

func TestCommitResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/match/result", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DrawWinner, body["winner"])
		_, _ = w.Write([]byte(`{"message":"Result committed successfully","winner":"` + body["winner"] + `","txHash":"0x222"}`))
	}))
	defer srv.Close()

	rec, err := NewClient(srv.URL).CommitResult(context.Background(), "m1", DrawWinner)
	require.NoError(t, err)
	assert.Equal(t, "0x222", rec.TxHash)
	assert.True(t, IsDraw(rec.Winner))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		status  int
		details string
		code    apperrors.Code
	}{
		{http.StatusBadRequest, "", apperrors.CodeLedgerRejected},
		{http.StatusConflict, "", apperrors.CodeLedgerRejected},
		{http.StatusRequestTimeout, "", apperrors.CodeLedgerUnavailable},
		{http.StatusTooManyRequests, "", apperrors.CodeLedgerUnavailable},
		{http.StatusInternalServerError, "could not detect network", apperrors.CodeLedgerUnavailable},
		{http.StatusBadGateway, "", apperrors.CodeLedgerUnavailable},
		{http.StatusInternalServerError, `execution reverted: "match exists"`, apperrors.CodeLedgerRejected},
		{http.StatusInternalServerError, "invalid address (code=INVALID_ARGUMENT)", apperrors.CodeLedgerRejected},
		{http.StatusInternalServerError, "missing revert data (code=CALL_EXCEPTION)", apperrors.CodeLedgerRejected},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Failed to create match", "details": tt.details})
		}))
		_, err := NewClient(srv.URL).CreateEscrow(context.Background(), escrowReq("m1"))
		assert.Equal(t, tt.code, apperrors.CodeOf(err), "status %d %q", tt.status, tt.details)
		srv.Close()
	}
}

func TestMissingTxHashIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CreateEscrow(context.Background(), escrowReq("m1"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLedgerRejected))
}

func TestUnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, WithTimeout(time.Second)).CommitResult(context.Background(), "m1", "0xA")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLedgerUnavailable))
}

func TestLongMatchIDRejectedBeforeCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	long := strings.Repeat("a", MatchIDWidth)

	_, err := c.CreateEscrow(context.Background(), escrowReq(long))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidRequest))
	_, err = c.CommitResult(context.Background(), long, "0xA")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidRequest))
	assert.Zero(t, calls.Load())
}

func TestEncodeMatchID(t *testing.T) {
	tok, err := EncodeMatchID("abc")
	require.NoError(t, err)
	assert.Equal(t, byte('a'), tok[0])
	assert.Equal(t, byte(0), tok[3])

	_, err = EncodeMatchID(strings.Repeat("f", MatchIDWidth-1))
	assert.NoError(t, err)
	_, err = EncodeMatchID("")
	assert.Error(t, err)
}

func TestEscrowValidation(t *testing.T) {
	req := escrowReq("m1")
	req.Stake = decimal.Zero
	assert.True(t, apperrors.HasCode(req.Validate(), apperrors.CodeInvalidRequest))

	req = escrowReq("m1")
	req.P2 = " "
	assert.True(t, apperrors.HasCode(req.Validate(), apperrors.CodeInvalidRequest))

	req = escrowReq("m1")
	req.P1 = "not-an-address"
	assert.True(t, apperrors.HasCode(req.Validate(), apperrors.CodeInvalidRequest))
}

func TestValidAddress(t *testing.T) {
	assert.True(t, ValidAddress(addrA))
	assert.True(t, ValidAddress(DrawWinner))
	for _, bad := range []string{"", "0xA", "not-an-address", addrA[2:], addrA + "0", "0x" + strings.Repeat("g", 40)} {
		assert.False(t, ValidAddress(bad), bad)
	}
}

func TestValidateStake(t *testing.T) {
	for _, ok := range []string{"50", "0.5", "1.000000000000000001", "50.000000000000000000000"} {
		assert.NoError(t, ValidateStake(decimal.RequireFromString(ok)), ok)
	}
	for _, bad := range []string{"0", "-1", "0.0000000000000000001"} {
		assert.True(t, apperrors.HasCode(ValidateStake(decimal.RequireFromString(bad)), apperrors.CodeInvalidRequest), bad)
	}
}

func TestBearerToken(t *testing.T) {
	secret := "s3cret"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return []byte(secret), nil })
		if err != nil || claims.Subject != "matchmaker" || claims.Issuer != "sector7" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"txHash":"0x333"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTokenSigner(NewTokenSigner(secret, "sector7", time.Minute)))
	rec, err := c.CommitResult(context.Background(), "m1", "0xA")
	require.NoError(t, err)
	assert.Equal(t, "0x333", rec.TxHash)

	_, err = NewClient(srv.URL).CommitResult(context.Background(), "m1", "0xA")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLedgerRejected))
}

func TestVerifyStake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/match/stake", r.URL.Path)
		staked := r.URL.Query().Get("player") == "0xA"
		_ = json.NewEncoder(w).Encode(map[string]bool{"staked": staked})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ok, err := c.VerifyStake(context.Background(), "m1", "0xA")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.VerifyStake(context.Background(), "m1", "0xB")
	require.NoError(t, err)
	assert.False(t, ok)
}
