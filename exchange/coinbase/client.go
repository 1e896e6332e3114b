// Package coinbase is the venue collaborator: a thin JWT-authenticated REST
// client and the websocket market-data feed. Everything above this package
// works in terms of the shapes in model; nothing else knows wire bytes.
package coinbase

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/patrickgrad/coin-trader/model"
)

type Client struct {
	baseURL   string
	http      *http.Client
	apiKey    string
	apiSecret string
}

func NewClient(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: 10 * time.Second},
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

// buildJWT signs a short-lived ES256 token with the API private key.
func buildJWT(apiKey, apiSecret string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(2 * time.Minute).Unix(),
		"sub": apiKey,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	block, _ := pem.Decode([]byte(apiSecret))
	if block == nil {
		return "", fmt.Errorf("api secret is not a PEM block")
	}
	privKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parse EC private key: %w", err)
	}
	return token.SignedString(privKey)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	tok, err := buildJWT(c.apiKey, c.apiSecret)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// orderResponse is the venue's order payload. Numeric fields come back as
// strings; a rejected request carries only Message.
type orderResponse struct {
	ID         string `json:"id"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	FilledSize string `json:"filled_size"`
	Message    string `json:"message"`
}

func (r orderResponse) toModel() model.PlaceResponse {
	return model.PlaceResponse{
		ID:         r.ID,
		Price:      parseFloat(r.Price),
		Size:       parseFloat(r.Size),
		FilledSize: parseFloat(r.FilledSize),
		Message:    r.Message,
	}
}

// PlaceLimitOrder submits a post-only limit order. Rejections come back in
// the response Message; transport failures surface as ServiceUnavailable so
// the agent's retry branch handles them uniformly.
func (c *Client) PlaceLimitOrder(ctx context.Context, req model.OrderRequest) model.PlaceResponse {
	body := map[string]any{
		"client_oid": uuid.NewString(),
		"type":       "limit",
		"product_id": req.ProductID,
		"side":       string(req.Side),
		"price":      formatFloat(req.Price),
		"size":       formatFloat(req.Size),
		"post_only":  req.PostOnly,
	}
	var out orderResponse
	if _, err := c.send(ctx, http.MethodPost, "/orders", body, &out); err != nil {
		return model.PlaceResponse{Message: model.MsgServiceUnavailable}
	}
	return out.toModel()
}

func (c *Client) PlaceMarketOrder(ctx context.Context, productID string, side model.Side, size float64) model.PlaceResponse {
	body := map[string]any{
		"client_oid": uuid.NewString(),
		"type":       "market",
		"product_id": productID,
		"side":       string(side),
		"size":       formatFloat(size),
	}
	var out orderResponse
	if _, err := c.send(ctx, http.MethodPost, "/orders", body, &out); err != nil {
		return model.PlaceResponse{Message: model.MsgServiceUnavailable}
	}
	return out.toModel()
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	status, err := c.send(ctx, http.MethodDelete, "/orders/"+orderID, nil, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("cancel %s: venue returned %d", orderID, status)
	}
	return nil
}

// CancelAll clears every resting order at startup so a crashed previous run
// cannot leave orphans the new process never learns about.
func (c *Client) CancelAll(ctx context.Context) error {
	status, err := c.send(ctx, http.MethodDelete, "/orders", nil, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("cancel all: venue returned %d", status)
	}
	return nil
}

func (c *Client) GetAccounts(ctx context.Context) ([]model.Account, error) {
	var rows []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
		Hold      string `json:"hold"`
		Balance   string `json:"balance"`
	}
	status, err := c.send(ctx, http.MethodGet, "/accounts", nil, &rows)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("get accounts: venue returned %d", status)
	}

	out := make([]model.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Account{
			Currency:  r.Currency,
			Available: parseFloat(r.Available),
			Hold:      parseFloat(r.Hold),
			Balance:   parseFloat(r.Balance),
		})
	}
	return out, nil
}

func (c *Client) GetOrders(ctx context.Context) ([]model.OpenOrder, error) {
	var rows []struct {
		ID        string `json:"id"`
		Side      string `json:"side"`
		ProductID string `json:"product_id"`
		Price     string `json:"price"`
		Size      string `json:"size"`
	}
	status, err := c.send(ctx, http.MethodGet, "/orders", nil, &rows)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("get orders: venue returned %d", status)
	}

	out := make([]model.OpenOrder, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.OpenOrder{
			ID:        r.ID,
			Side:      model.Side(r.Side),
			ProductID: r.ProductID,
			Price:     parseFloat(r.Price),
			Size:      parseFloat(r.Size),
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
