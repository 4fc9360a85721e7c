package builder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"txpilot/internal/backend"
	"txpilot/internal/order"

	"github.com/tidwall/gjson"
)

// PayloadBuilder is the external transaction construction and signing
// collaborator. The returned payload is opaque, finalized bytes; this core
// never inspects or re-signs it.
type PayloadBuilder interface {
	Build(ctx context.Context, orderID string, intent order.Intent) (backend.SignedPayload, error)
}

// HTTPBuilder asks a signing service to construct the payload.
type HTTPBuilder struct {
	url    string
	client *http.Client
}

func NewHTTPBuilder(url string, timeout time.Duration) *HTTPBuilder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBuilder{url: url, client: &http.Client{Timeout: timeout}}
}

func (b *HTTPBuilder) Build(ctx context.Context, orderID string, intent order.Intent) (backend.SignedPayload, error) {
	reqBody, err := json.Marshal(map[string]any{
		"order_id": orderID,
		"intent":   intent,
	})
	if err != nil {
		return backend.SignedPayload{}, fmt.Errorf("encode build request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(reqBody))
	if err != nil {
		return backend.SignedPayload{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return backend.SignedPayload{}, fmt.Errorf("builder request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return backend.SignedPayload{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return backend.SignedPayload{}, fmt.Errorf("builder returned %d", resp.StatusCode)
	}

	var txs [][]byte
	for _, encoded := range gjson.GetBytes(body, "transactions").Array() {
		raw, err := base64.StdEncoding.DecodeString(encoded.String())
		if err != nil {
			return backend.SignedPayload{}, fmt.Errorf("decode transaction: %w", err)
		}
		txs = append(txs, raw)
	}
	if len(txs) == 0 {
		return backend.SignedPayload{}, fmt.Errorf("builder returned no transactions")
	}
	return backend.SignedPayload{
		OrderID:      orderID,
		Market:       intent.Market,
		Transactions: txs,
		Atomic:       gjson.GetBytes(body, "atomic").Bool(),
	}, nil
}
