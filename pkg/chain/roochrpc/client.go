// Package roochrpc is a minimal JSON-RPC implementation of the Chain
// Client Port (chain.Client) against a Rooch node. It follows the
// teacher's context-timeout-plus-zap-logging HTTP idiom
// (pkg/storage/lighthouse.go) for transport, and its exponential-backoff
// transaction-wait loop (pkg/blockchain/mpe.go WaitForTransaction) for
// waiting on execution results.
package roochrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nuwa-protocol/nuwa-go/pkg/chain"
	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
)

// Client is a JSON-RPC-backed chain.Client.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New constructs a Client bound to a node JSON-RPC endpoint.
func New(endpoint string) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return errs.Wrap(errs.ChainUnreachable, "marshal rpc request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.ChainUnreachable, "build rpc request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	zap.L().Debug("chain rpc call", zap.String("method", method))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.ChainUnreachable, "rpc request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return errs.Wrap(errs.ChainUnreachable, "decode rpc response", err)
	}
	if rpcResp.Error != nil {
		return errs.New(errs.ChainUnreachable, fmt.Sprintf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return errs.Wrap(errs.EventSchemaMismatch, "decode rpc result", err)
	}
	return nil
}

// CallView invokes a read-only Move entry function via rooch_executeViewFunction.
func (c *Client) CallView(ctx context.Context, target string, args [][]byte) (chain.ViewResult, error) {
	var result struct {
		VMStatus     string   `json:"vm_status"`
		ReturnValues []string `json:"return_values"`
	}
	if err := c.call(ctx, "rooch_executeViewFunction", viewParams(target, args), &result); err != nil {
		return chain.ViewResult{}, err
	}
	status := chain.Executed
	if result.VMStatus != "" && result.VMStatus != "Executed" {
		status = chain.Failed
	}
	values := make([][]byte, len(result.ReturnValues))
	for i, v := range result.ReturnValues {
		values[i] = []byte(v)
	}
	return chain.ViewResult{Status: status, ReturnValues: values}, nil
}

func viewParams(target string, args [][]byte) any {
	encoded := make([]string, len(args))
	for i, a := range args {
		encoded[i] = fmt.Sprintf("%x", a)
	}
	return []any{map[string]any{"function_id": target, "args": encoded}}
}

// SendTx submits a signed transaction and polls for its execution result,
// backing off exponentially between polls.
func (c *Client) SendTx(ctx context.Context, tx chain.Tx, signer chain.Signer) (chain.TxResult, error) {
	if signer == nil {
		return chain.TxResult{}, errs.New(errs.NoSigner, "chain: no signer supplied")
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		return chain.TxResult{}, errs.Wrap(errs.TxRejected, "marshal transaction", err)
	}
	sig, err := signer.Sign(payload, "")
	if err != nil {
		return chain.TxResult{}, errs.Wrap(errs.TxRejected, "sign transaction", err)
	}

	var submitResult struct {
		Hash string `json:"hash"`
	}
	submitParams := map[string]any{
		"function_id": tx.Target,
		"sender":      signer.AddressOf(),
		"signature":   fmt.Sprintf("%x", sig),
	}
	if err := c.call(ctx, "rooch_sendRawTransaction", []any{submitParams}, &submitResult); err != nil {
		return chain.TxResult{}, errs.Wrap(errs.TxRejected, "submit transaction", err)
	}

	return c.waitForTransaction(ctx, submitResult.Hash)
}

// waitForTransaction polls rooch_getTransactionByHash with exponential
// backoff, matching the teacher's WaitForTransaction shape.
func (c *Client) waitForTransaction(ctx context.Context, hash string) (chain.TxResult, error) {
	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		var result struct {
			ExecutionInfo *struct {
				Status string `json:"status"`
			} `json:"execution_info"`
			Events []struct {
				EventType string `json:"event_type"`
				Data      string `json:"event_data"`
			} `json:"events"`
		}
		if err := c.call(ctx, "rooch_getTransactionByHash", []any{hash}, &result); err == nil && result.ExecutionInfo != nil {
			status := chain.Executed
			if result.ExecutionInfo.Status != "executed" {
				status = chain.Failed
			}
			events := make([]chain.Event, len(result.Events))
			for i, e := range result.Events {
				events[i] = chain.Event{Type: e.EventType, Payload: []byte(e.Data)}
			}
			return chain.TxResult{Status: status, Events: events}, nil
		}

		select {
		case <-ctx.Done():
			return chain.TxResult{}, errs.Wrap(errs.ChainUnreachable, "transaction wait cancelled", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// DeriveChannelID delegates to the pure chain.DeriveChannelID.
func (c *Client) DeriveChannelID(payerDID, payeeDID, assetID string) [32]byte {
	return chain.DeriveChannelID(payerDID, payeeDID, assetID)
}

// NodeURLForNetwork delegates to the pure chain.NodeURLForNetwork.
func (c *Client) NodeURLForNetwork(tag string) (string, error) {
	return chain.NodeURLForNetwork(tag)
}

var _ chain.Client = (*Client)(nil)
