package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ibizsoftware/auditledger/audit"
)

// Client is the HTTP/JSON implementation of FileAuditClient and
// BlockChainClient. Every call takes its deadline from ctx
// (context.WithTimeout), matching the per-call deadlines spec §5 and §4.3–
// §4.6 mandate (200ms propose/commit, 1s heartbeat/election/sync); Client
// itself carries no default timeout, so a call whose ctx has no deadline
// is unbounded.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the replica listening at baseURL (e.g.
// "http://10.0.0.2:50051"). The same *http.Client (and its transport's
// connection pool) is reused for the process lifetime, matching spec §5's
// "peer stubs are created once at startup and reused".
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}}
}

func (c *Client) post(ctx context.Context, method string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rpc: marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/"+method, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("rpc: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rpc: %s: decode response: %w", method, err)
	}
	return nil
}

// SubmitAudit implements FileAuditClient.
func (c *Client) SubmitAudit(ctx context.Context, a audit.Audit) (reqID, status string, err error) {
	var resp submitAuditResponse
	if err := c.post(ctx, "SubmitAudit", a, &resp); err != nil {
		return "", "", err
	}
	return resp.ReqID, resp.Status, nil
}

// WhisperAuditRequest implements BlockChainClient.
func (c *Client) WhisperAuditRequest(ctx context.Context, a audit.Audit) (status string, err error) {
	var resp whisperResponse
	if err := c.post(ctx, "WhisperAuditRequest", a, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// ProposeBlock implements BlockChainClient.
func (c *Client) ProposeBlock(ctx context.Context, b audit.Block) (vote bool, status, errMsg string, err error) {
	var resp voteResponse
	if err := c.post(ctx, "ProposeBlock", b, &resp); err != nil {
		return false, "", "", err
	}
	return resp.Vote, resp.Status, resp.ErrorMessage, nil
}

// CommitBlock implements BlockChainClient.
func (c *Client) CommitBlock(ctx context.Context, b audit.Block) (status, errMsg string, err error) {
	var resp commitResponse
	if err := c.post(ctx, "CommitBlock", b, &resp); err != nil {
		return "", "", err
	}
	return resp.Status, resp.ErrorMessage, nil
}

// GetBlock implements BlockChainClient.
func (c *Client) GetBlock(ctx context.Context, id int64) (b audit.Block, status, errMsg string, err error) {
	var resp getBlockResponse
	if err := c.post(ctx, "GetBlock", getBlockRequest{ID: id}, &resp); err != nil {
		return audit.Block{}, "", "", err
	}
	return resp.Block, resp.Status, resp.ErrorMessage, nil
}

// SendHeartbeat implements BlockChainClient.
func (c *Client) SendHeartbeat(ctx context.Context, req HeartbeatRequest) error {
	return c.post(ctx, "SendHeartbeat", req, nil)
}

// TriggerElection implements BlockChainClient.
func (c *Client) TriggerElection(ctx context.Context, term int64, address string) (vote bool, err error) {
	var resp triggerElectionResponse
	if err := c.post(ctx, "TriggerElection", triggerElectionRequest{Term: term, Address: address}, &resp); err != nil {
		return false, err
	}
	return resp.Vote, nil
}

// NotifyLeadership implements BlockChainClient.
func (c *Client) NotifyLeadership(ctx context.Context, address string) error {
	return c.post(ctx, "NotifyLeadership", notifyLeadershipRequest{Address: address}, nil)
}
