package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// RPC submits single transactions straight to a ledger node over JSON-RPC.
// It carries no atomicity for groups, so atomic payloads are routed away
// from it by the executor.
type RPC struct {
	name   string
	url    string
	client *http.Client
}

func NewRPC(name, url string, timeout time.Duration) *RPC {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPC{name: name, url: url, client: &http.Client{Timeout: timeout}}
}

func (r *RPC) Name() string { return r.name }

func (r *RPC) Submit(ctx context.Context, payload SignedPayload) (SubmitReceipt, error) {
	if len(payload.Transactions) == 0 {
		return SubmitReceipt{}, NewFatal(r.name, "payload carries no transactions", nil)
	}
	tx := base64.StdEncoding.EncodeToString(payload.Transactions[0])
	body, err := r.call(ctx, "sendTransaction", []any{tx, map[string]any{"encoding": "base64"}})
	if err != nil {
		return SubmitReceipt{}, err
	}
	sig := gjson.GetBytes(body, "result").String()
	if sig == "" {
		return SubmitReceipt{}, NewTransient(r.name, "node response missing signature", nil)
	}
	return SubmitReceipt{Signature: sig}, nil
}

func (r *RPC) Confirm(ctx context.Context, signature string) (ConfirmationStatus, error) {
	body, err := r.call(ctx, "getSignatureStatuses", []any{[]string{signature}})
	if err != nil {
		return ConfirmationStatus{}, err
	}
	entry := gjson.GetBytes(body, "result.value.0")
	if !entry.Exists() || entry.Type == gjson.Null {
		return ConfirmationStatus{Level: ConfirmPending}, nil
	}
	if txErr := entry.Get("err"); txErr.Exists() && txErr.Type != gjson.Null {
		return ConfirmationStatus{Rejected: true, Reason: txErr.Raw}, nil
	}
	switch entry.Get("confirmationStatus").String() {
	case "processed":
		return ConfirmationStatus{Level: ConfirmSubmitted}, nil
	case "confirmed":
		return ConfirmationStatus{Level: ConfirmConfirmed}, nil
	case "finalized":
		return ConfirmationStatus{Level: ConfirmFinalized}, nil
	default:
		return ConfirmationStatus{Level: ConfirmSubmitted}, nil
	}
}

func (r *RPC) Simulate(ctx context.Context, payload SignedPayload) error {
	if len(payload.Transactions) == 0 {
		return NewFatal(r.name, "payload carries no transactions", nil)
	}
	tx := base64.StdEncoding.EncodeToString(payload.Transactions[0])
	body, err := r.call(ctx, "simulateTransaction", []any{tx, map[string]any{"encoding": "base64"}})
	if err != nil {
		return err
	}
	if simErr := gjson.GetBytes(body, "result.value.err"); simErr.Exists() && simErr.Type != gjson.Null {
		return NewFatal(r.name, fmt.Sprintf("simulation rejected: %s", simErr.Raw), nil)
	}
	return nil
}

func (r *RPC) call(ctx context.Context, method string, params []any) ([]byte, error) {
	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, NewFatal(r.name, "encode rpc request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewFatal(r.name, "build rpc request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := doRequest(r.client, req)
	if err != nil {
		return nil, NewTransient(r.name, method+" failed", err)
	}
	if status != http.StatusOK {
		if retryableHTTPStatus(status) {
			return nil, NewTransient(r.name, fmt.Sprintf("node returned %d", status), nil)
		}
		return nil, NewFatal(r.name, fmt.Sprintf("node returned %d", status), nil)
	}
	if rpcErr := gjson.GetBytes(body, "error"); rpcErr.Exists() {
		msg := rpcErr.Get("message").String()
		if deterministicRPCError(msg) {
			return nil, NewFatal(r.name, msg, nil)
		}
		return nil, NewTransient(r.name, msg, nil)
	}
	return body, nil
}

// deterministicRPCError matches node errors that no amount of retrying will
// cure: bad signatures, insufficient balance, program-level rejections.
func deterministicRPCError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{
		"signature verification failure",
		"invalid signature",
		"insufficient funds",
		"insufficient lamports",
		"program failed",
		"instruction error",
		"already processed",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
