// Package chain implements the ledger RPC boundary against a Solana JSON-RPC
// endpoint.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

// tokenProgramID is the SPL token program; token sub-accounts are enumerated
// under it.
const tokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

// Client talks JSON-RPC to a Solana node and implements domain.LedgerRPC.
type Client struct {
	url        string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient builds a ledger client for the given RPC URL.
func NewClient(rpcURL string, log *zap.Logger) *Client {
	return &Client{
		url:        rpcURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs a single JSON-RPC request and decodes its result into out.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", method, err)
	}

	raw, err := c.post(ctx, body)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %w", method, resp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc endpoint returned status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

// LatestPosition returns the slot at the current tip.
func (c *Client) LatestPosition(ctx context.Context) (uint64, error) {
	var result struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
	}
	if err := c.call(ctx, "getLatestBlockhash", nil, &result); err != nil {
		return 0, err
	}
	return result.Context.Slot, nil
}

// TimestampAt returns the committed block time of a slot. A null result
// (skipped slot) is an error the caller retries nearby.
func (c *Client) TimestampAt(ctx context.Context, slot uint64) (time.Time, error) {
	var result *int64
	if err := c.call(ctx, "getBlockTime", []any{slot}, &result); err != nil {
		return time.Time{}, err
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("slot %d has no committed block time", slot)
	}
	return time.Unix(*result, 0).UTC(), nil
}

// IdentifiersAt returns the signatures recorded at a slot.
func (c *Client) IdentifiersAt(ctx context.Context, slot uint64) ([]string, error) {
	var result struct {
		Signatures []string `json:"signatures"`
	}
	params := []any{slot, map[string]any{
		"transactionDetails":             "signatures",
		"rewards":                        false,
		"maxSupportedTransactionVersion": 0,
	}}
	if err := c.call(ctx, "getBlock", params, &result); err != nil {
		return nil, err
	}
	return result.Signatures, nil
}

// IdentifiersForAccount returns one page of signatures for an account.
func (c *Client) IdentifiersForAccount(ctx context.Context, account string, q domain.SignatureQuery) ([]domain.SignatureInfo, error) {
	opts := map[string]any{"limit": q.Limit}
	if q.Before != "" {
		opts["before"] = q.Before
	}
	if q.Until != "" {
		opts["until"] = q.Until
	}

	var result []struct {
		Signature string `json:"signature"`
		Slot      uint64 `json:"slot"`
		BlockTime *int64 `json:"blockTime"`
	}
	if err := c.call(ctx, "getSignaturesForAddress", []any{account, opts}, &result); err != nil {
		return nil, err
	}

	out := make([]domain.SignatureInfo, 0, len(result))
	for _, r := range result {
		info := domain.SignatureInfo{Signature: r.Signature, Slot: r.Slot}
		if r.BlockTime != nil {
			info.BlockTime = time.Unix(*r.BlockTime, 0).UTC()
		}
		out = append(out, info)
	}
	return out, nil
}

// Bodies resolves signatures to parsed transactions with one batched
// JSON-RPC request. Entries the node no longer holds come back nil.
func (c *Client) Bodies(ctx context.Context, ids []string, maxVersion int) ([]*domain.TransactionBody, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	batch := make([]rpcRequest, len(ids))
	for i, id := range ids {
		batch[i] = rpcRequest{
			JSONRPC: "2.0",
			ID:      i,
			Method:  "getTransaction",
			Params: []any{id, map[string]any{
				"encoding":                       "jsonParsed",
				"maxSupportedTransactionVersion": maxVersion,
			}},
		}
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshaling getTransaction batch: %w", err)
	}

	raw, err := c.post(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("getTransaction batch: %w", err)
	}

	var responses []rpcResponse
	if err := json.Unmarshal(raw, &responses); err != nil {
		return nil, fmt.Errorf("decoding getTransaction batch: %w", err)
	}

	// Responses may arrive out of order; reassemble by request id.
	out := make([]*domain.TransactionBody, len(ids))
	for _, resp := range responses {
		if resp.ID < 0 || resp.ID >= len(ids) {
			continue
		}
		if resp.Error != nil {
			c.log.Warn("getTransaction entry failed",
				zap.String("signature", ids[resp.ID]),
				zap.Error(resp.Error))
			continue
		}
		parsed, err := parseTransaction(ids[resp.ID], resp.Result)
		if err != nil {
			c.log.Warn("unparseable transaction",
				zap.String("signature", ids[resp.ID]),
				zap.Error(err))
			continue
		}
		out[resp.ID] = parsed
	}
	return out, nil
}

// TokenSubAccounts lists SPL token accounts owned by an account.
func (c *Client) TokenSubAccounts(ctx context.Context, owner string) ([]domain.TokenAccount, error) {
	var result struct {
		Value []struct {
			Pubkey  string `json:"pubkey"`
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint string `json:"mint"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	params := []any{
		owner,
		map[string]any{"programId": tokenProgramID},
		map[string]any{"encoding": "jsonParsed"},
	}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return nil, err
	}

	out := make([]domain.TokenAccount, 0, len(result.Value))
	for _, v := range result.Value {
		out = append(out, domain.TokenAccount{
			Address: v.Pubkey,
			Mint:    v.Account.Data.Parsed.Info.Mint,
		})
	}
	return out, nil
}

// transactionEnvelope mirrors the jsonParsed getTransaction result shape.
type transactionEnvelope struct {
	Slot        uint64 `json:"slot"`
	BlockTime   *int64 `json:"blockTime"`
	Transaction struct {
		Message struct {
			AccountKeys []struct {
				Pubkey string `json:"pubkey"`
			} `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
	Meta *struct {
		Err               any            `json:"err"`
		Fee               uint64         `json:"fee"`
		PreBalances       []int64        `json:"preBalances"`
		PostBalances      []int64        `json:"postBalances"`
		PreTokenBalances  []tokenBalance `json:"preTokenBalances"`
		PostTokenBalances []tokenBalance `json:"postTokenBalances"`
	} `json:"meta"`
}

type tokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		UIAmount *float64 `json:"uiAmount"`
	} `json:"uiTokenAmount"`
}

func parseTransaction(signature string, raw json.RawMessage) (*domain.TransactionBody, error) {
	if len(raw) == 0 || string(raw) == "null" {
		// The node no longer holds this entry; not an error.
		return nil, nil
	}

	var env transactionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Meta == nil {
		return nil, fmt.Errorf("transaction %s has no meta", signature)
	}

	body := &domain.TransactionBody{
		Signature:    signature,
		Slot:         env.Slot,
		Success:      env.Meta.Err == nil,
		Fee:          env.Meta.Fee,
		PreBalances:  env.Meta.PreBalances,
		PostBalances: env.Meta.PostBalances,
	}
	if env.BlockTime != nil {
		body.BlockTime = time.Unix(*env.BlockTime, 0).UTC()
	}
	for _, k := range env.Transaction.Message.AccountKeys {
		body.AccountKeys = append(body.AccountKeys, k.Pubkey)
	}
	if len(body.AccountKeys) > 0 {
		// The fee payer is by convention the first account key.
		body.FeePayer = body.AccountKeys[0]
	}
	body.PreTokenBalances = convertTokenBalances(env.Meta.PreTokenBalances)
	body.PostTokenBalances = convertTokenBalances(env.Meta.PostTokenBalances)
	return body, nil
}

func convertTokenBalances(in []tokenBalance) []domain.TokenBalanceEntry {
	out := make([]domain.TokenBalanceEntry, 0, len(in))
	for _, b := range in {
		entry := domain.TokenBalanceEntry{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
			Owner:        b.Owner,
		}
		if b.UITokenAmount.UIAmount != nil {
			entry.Amount = *b.UITokenAmount.UIAmount
		}
		out = append(out, entry)
	}
	return out
}
