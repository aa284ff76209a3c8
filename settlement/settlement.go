// Package settlement dispatches completed trades to the external
// settlement endpoint (spec.md §6 "Settlement request"): a signed,
// fire-and-report POST whose response only affects logging, since the
// trade pair has already been removed by the time it's sent.
package settlement

//go:generate go tool errtrace -w .

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"braces.dev/errtrace"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tradepeer/tradepeer/internal/applog"
	"github.com/tradepeer/tradepeer/trade"
)

// tradeInfo mirrors one side of a settled trade pair in the request body.
type tradeInfo struct {
	UserID    trade.UserID    `json:"userId"`
	Inventory trade.Inventory `json:"inventory"`
	LockedIn  bool            `json:"lockedIn"`
	Accepted  bool            `json:"accepted"`
}

type requestBody struct {
	TradeInfo []tradeInfo `json:"tradeInfo"`
}

type bearerClaims struct {
	UserIDs []trade.UserID `json:"userIds"`
	jwt.RegisteredClaims
}

// Client POSTs completed trade pairs to a fixed endpoint with an
// RS256-signed bearer token. A zero-value *http.Client (nil) falls back to
// http.DefaultClient, matching the single fire-and-report call this
// package exists for: no retries, no connection-pool tuning, no
// multi-endpoint routing, so a bespoke HTTP library buys nothing here.
type Client struct {
	Endpoint   string
	PrivateKey *rsa.PrivateKey
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient constructs a Client from a PEM-encoded RSA private key.
func NewClient(endpoint string, privateKeyPEM []byte, logger *slog.Logger) (*Client, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("settlement: parse private key: %w", err))
	}
	if logger == nil {
		logger = applog.Default()
	}
	return &Client{Endpoint: endpoint, PrivateKey: key, Logger: logger}, nil
}

// Submit dispatches pair's settlement POST. Failures are logged only: the
// trade pair has already been removed from the coordinator's state by the
// time this runs, so there is nothing left to roll back (spec.md §6, §10
// "no trade atomicity with settlement beyond fire-and-report").
func (c *Client) Submit(ctx context.Context, pair *trade.TradePair) {
	logger := c.Logger
	if l := applog.FromContext(ctx); l != applog.Default() {
		logger = l
	}

	body := requestBody{TradeInfo: make([]tradeInfo, 0, len(pair.Sides))}
	userIDs := make([]trade.UserID, 0, len(pair.Sides))
	for _, side := range pair.Sides {
		body.TradeInfo = append(body.TradeInfo, tradeInfo{
			UserID:    side.UserID,
			Inventory: side.Inventory,
			LockedIn:  side.LockedIn,
			Accepted:  side.Accepted,
		})
		userIDs = append(userIDs, side.UserID)
	}

	token, err := c.sign(userIDs)
	if err != nil {
		logger.Error("settlement: failed to sign bearer token", "trade", pair.ID, "error", err)
		return
	}

	if err := c.post(ctx, body, token); err != nil {
		logger.Error("settlement: request failed", "trade", pair.ID, "error", err)
		return
	}
	logger.Info("settlement: trade reported", "trade", pair.ID, "users", userIDs)
}

func (c *Client) sign(userIDs []trade.UserID) (string, error) {
	now := time.Now()
	claims := bearerClaims{
		UserIDs: userIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	return errtrace.Wrap2(jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.PrivateKey))
}

func (c *Client) post(ctx context.Context, body requestBody, bearer string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errtrace.Wrap(fmt.Errorf("settlement: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return errtrace.Wrap(fmt.Errorf("settlement: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return errtrace.Wrap(fmt.Errorf("settlement: do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errtrace.Wrap(fmt.Errorf("settlement: endpoint returned status %d", resp.StatusCode))
	}
	return nil
}
