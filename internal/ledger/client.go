package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/Freakkio/Sector7/internal/errors"
)

const maxBody = 1 << 20

// Client talks to the ledger API gateway over HTTP.
type Client struct {
	base   string
	http   *http.Client
	tokens *TokenSigner
	tracer trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout bounds a single request, confirmation wait included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithTokenSigner attaches a bearer token to every request.
func WithTokenSigner(s *TokenSigner) Option {
	return func(c *Client) { c.tokens = s }
}

// NewClient returns a client for the gateway at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 60 * time.Second},
		tracer: otel.Tracer("github.com/Freakkio/Sector7/internal/ledger"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type startBody struct {
	MatchID string `json:"matchId"`
	P1      string `json:"p1"`
	P2      string `json:"p2"`
	Stake   string `json:"stake"`
}

type resultBody struct {
	MatchID string `json:"matchId"`
	Winner  string `json:"winner"`
}

type txResponse struct {
	Message string `json:"message"`
	MatchID string `json:"matchId"`
	Winner  string `json:"winner"`
	TxHash  string `json:"txHash"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// CreateEscrow calls POST /match/start.
func (c *Client) CreateEscrow(ctx context.Context, req EscrowRequest) (Receipt, error) {
	if err := req.Validate(); err != nil {
		return Receipt{}, err
	}
	ctx, span := c.tracer.Start(ctx, "ledger.createEscrow",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("match.id", req.MatchID),
			attribute.String("match.stake", req.Stake.String()),
		))
	defer span.End()

	var out txResponse
	err := c.do(ctx, http.MethodPost, "/match/start", startBody{
		MatchID: req.MatchID,
		P1:      req.P1,
		P2:      req.P2,
		Stake:   req.Stake.String(),
	}, &out)
	if err == nil && out.TxHash == "" {
		err = apperrors.New(apperrors.CodeLedgerRejected, "ledger: start response without txHash")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		return Receipt{}, err
	}
	span.SetAttributes(attribute.String("ledger.tx", out.TxHash))
	return Receipt{MatchID: req.MatchID, TxHash: out.TxHash, Message: out.Message}, nil
}

// CommitResult calls POST /match/result. winner is a player address or
// DrawWinner.
func (c *Client) CommitResult(ctx context.Context, matchID, winner string) (Receipt, error) {
	if _, err := EncodeMatchID(matchID); err != nil {
		return Receipt{}, err
	}
	if strings.TrimSpace(winner) == "" {
		return Receipt{}, apperrors.New(apperrors.CodeInvalidRequest, "result: missing winner")
	}
	ctx, span := c.tracer.Start(ctx, "ledger.commitResult",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("match.id", matchID),
			attribute.Bool("match.draw", IsDraw(winner)),
		))
	defer span.End()

	var out txResponse
	err := c.do(ctx, http.MethodPost, "/match/result", resultBody{MatchID: matchID, Winner: winner}, &out)
	if err == nil && out.TxHash == "" {
		err = apperrors.New(apperrors.CodeLedgerRejected, "ledger: result response without txHash")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		return Receipt{}, err
	}
	span.SetAttributes(attribute.String("ledger.tx", out.TxHash))
	return Receipt{MatchID: matchID, Winner: winner, TxHash: out.TxHash, Message: out.Message}, nil
}

// VerifyStake calls GET /match/stake.
func (c *Client) VerifyStake(ctx context.Context, matchID, player string) (bool, error) {
	if _, err := EncodeMatchID(matchID); err != nil {
		return false, err
	}
	ctx, span := c.tracer.Start(ctx, "ledger.verifyStake",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("match.id", matchID)))
	defer span.End()

	q := url.Values{"matchId": {matchID}, "player": {player}}
	var out struct {
		Staked bool `json:"staked"`
	}
	if err := c.do(ctx, http.MethodGet, "/match/stake?"+q.Encode(), nil, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		return false, err
	}
	span.SetAttributes(attribute.Bool("ledger.staked", out.Staked))
	return out.Staked, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidRequest, "ledger: encode body", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidRequest, "ledger: build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		tok, err := c.tokens.Sign()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "ledger: sign token", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeLedgerUnavailable, fmt.Sprintf("ledger: %s %s", method, path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeLedgerUnavailable, "ledger: read response", err)
	}

	if resp.StatusCode/100 != 2 {
		var e errorResponse
		_ = json.Unmarshal(raw, &e)
		msg := fmt.Sprintf("ledger: %s %s: status %d: %s %s", method, path, resp.StatusCode, e.Error, e.Details)
		return apperrors.New(classify(resp.StatusCode, e.Details), strings.TrimSpace(msg))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.Wrap(apperrors.CodeLedgerRejected, "ledger: decode response", err)
	}
	return nil
}

// revertMarkers identify a gateway 5xx caused by the contract refusing the
// transaction. Resending it cannot succeed.
var revertMarkers = []string{"execution reverted", "CALL_EXCEPTION", "INVALID_ARGUMENT"}

// classify maps a non-2xx status and the gateway's error details to a
// failure class.
func classify(status int, details string) apperrors.Code {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return apperrors.CodeLedgerUnavailable
	case status >= 500:
		for _, m := range revertMarkers {
			if strings.Contains(details, m) {
				return apperrors.CodeLedgerRejected
			}
		}
		return apperrors.CodeLedgerUnavailable
	default:
		return apperrors.CodeLedgerRejected
	}
}
