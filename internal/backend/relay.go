package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Relay submits transaction groups to an atomic bundle relay over HTTP.
// The relay either lands the whole bundle or rejects it, so a partial
// rejection surfaces here as a single failure.
type Relay struct {
	name   string
	url    string
	client *http.Client
}

func NewRelay(name, url string, timeout time.Duration) *Relay {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Relay{
		name:   name,
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (r *Relay) Name() string { return r.name }

func (r *Relay) SupportsBundles() bool { return true }

func (r *Relay) Submit(ctx context.Context, payload SignedPayload) (SubmitReceipt, error) {
	encoded := make([]string, 0, len(payload.Transactions))
	for _, tx := range payload.Transactions {
		encoded = append(encoded, base64.StdEncoding.EncodeToString(tx))
	}
	reqBody, err := json.Marshal(map[string]any{"transactions": encoded})
	if err != nil {
		return SubmitReceipt{}, NewFatal(r.name, "encode bundle request", err)
	}

	body, status, err := r.post(ctx, r.url+"/api/v1/bundles", reqBody)
	if err != nil {
		return SubmitReceipt{}, NewTransient(r.name, "bundle submit failed", err)
	}
	if status != http.StatusOK {
		if retryableHTTPStatus(status) {
			return SubmitReceipt{}, NewTransient(r.name, fmt.Sprintf("relay returned %d", status), nil)
		}
		reason := gjson.GetBytes(body, "error.message").String()
		if reason == "" {
			reason = fmt.Sprintf("relay rejected bundle (%d)", status)
		}
		return SubmitReceipt{}, NewFatal(r.name, reason, nil)
	}

	bundleID := gjson.GetBytes(body, "bundle_id").String()
	if bundleID == "" {
		return SubmitReceipt{}, NewTransient(r.name, "relay response missing bundle_id", nil)
	}
	return SubmitReceipt{Signature: bundleID}, nil
}

func (r *Relay) Confirm(ctx context.Context, signature string) (ConfirmationStatus, error) {
	body, status, err := r.get(ctx, fmt.Sprintf("%s/api/v1/bundles/%s/status", r.url, signature))
	if err != nil {
		return ConfirmationStatus{}, NewTransient(r.name, "bundle status query failed", err)
	}
	if status != http.StatusOK {
		return ConfirmationStatus{}, NewTransient(r.name, fmt.Sprintf("relay status returned %d", status), nil)
	}

	switch gjson.GetBytes(body, "status").String() {
	case "pending":
		return ConfirmationStatus{Level: ConfirmPending}, nil
	case "submitted":
		return ConfirmationStatus{Level: ConfirmSubmitted}, nil
	case "landed":
		return ConfirmationStatus{Level: ConfirmConfirmed}, nil
	case "finalized":
		return ConfirmationStatus{Level: ConfirmFinalized}, nil
	case "failed", "rejected":
		reason := gjson.GetBytes(body, "reason").String()
		return ConfirmationStatus{Rejected: true, Reason: reason}, nil
	default:
		return ConfirmationStatus{Level: ConfirmPending}, nil
	}
}

func (r *Relay) Simulate(ctx context.Context, payload SignedPayload) error {
	encoded := make([]string, 0, len(payload.Transactions))
	for _, tx := range payload.Transactions {
		encoded = append(encoded, base64.StdEncoding.EncodeToString(tx))
	}
	reqBody, err := json.Marshal(map[string]any{"transactions": encoded, "simulate_only": true})
	if err != nil {
		return NewFatal(r.name, "encode simulate request", err)
	}
	body, status, err := r.post(ctx, r.url+"/api/v1/bundles/simulate", reqBody)
	if err != nil {
		return NewTransient(r.name, "simulation request failed", err)
	}
	if status != http.StatusOK {
		if retryableHTTPStatus(status) {
			return NewTransient(r.name, fmt.Sprintf("simulation returned %d", status), nil)
		}
		return NewFatal(r.name, "simulation rejected bundle", nil)
	}
	if rejected := gjson.GetBytes(body, "rejected").Bool(); rejected {
		return NewFatal(r.name, gjson.GetBytes(body, "reason").String(), nil)
	}
	return nil
}

func (r *Relay) post(ctx context.Context, url string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(r.client, req)
}

func (r *Relay) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	return doRequest(r.client, req)
}

func doRequest(client *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func retryableHTTPStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
