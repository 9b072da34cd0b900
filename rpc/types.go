// Package rpc defines the wire-level request/response semantics of spec
// §6 as Go interfaces, plus one concrete transport (HTTP/JSON over
// httprouter) implementing them. The core (scheduler, heartbeat, election
// packages) depends only on FileAuditClient/BlockChainClient, never on
// this package's transport details, so it can be driven by a fake
// transport in tests.
package rpc

import (
	"context"

	"github.com/ibizsoftware/auditledger/audit"
)

// HeartbeatRequest is the payload of BlockChainService.SendHeartbeat.
type HeartbeatRequest struct {
	FromAddress   string `json:"from_address"`
	Leader        string `json:"leader"`
	LatestBlockID int64  `json:"latest_block_id"`
	MempoolSize   int64  `json:"mempool_size"`
}

// FileAuditClient is the client side of FileAuditService.
type FileAuditClient interface {
	SubmitAudit(ctx context.Context, a audit.Audit) (reqID, status string, err error)
}

// BlockChainClient is the client side of BlockChainService, the interface
// every outbound RPC in spec §4.3–§4.6 is expressed against.
type BlockChainClient interface {
	WhisperAuditRequest(ctx context.Context, a audit.Audit) (status string, err error)
	ProposeBlock(ctx context.Context, b audit.Block) (vote bool, status, errMsg string, err error)
	CommitBlock(ctx context.Context, b audit.Block) (status, errMsg string, err error)
	GetBlock(ctx context.Context, id int64) (b audit.Block, status, errMsg string, err error)
	SendHeartbeat(ctx context.Context, req HeartbeatRequest) error
	TriggerElection(ctx context.Context, term int64, address string) (vote bool, err error)
	NotifyLeadership(ctx context.Context, address string) error
}

// Peer bundles an address with the client used to reach it; drivers
// iterate over a []Peer built once at startup (spec §5, "Resource
// lifecycle").
type Peer struct {
	Address string
	Client  BlockChainClient
}

// AuditBackend is the server side of FileAuditService: the logic the
// transport dispatches SubmitAudit to.
type AuditBackend interface {
	SubmitAudit(a audit.Audit) (reqID, status string)
}

// BlockChainBackend is the server side of BlockChainService.
type BlockChainBackend interface {
	WhisperAuditRequest(a audit.Audit) (status string)
	ProposeBlock(b audit.Block) (vote bool, status, errMsg string)
	CommitBlock(b audit.Block) (status, errMsg string)
	GetBlock(id int64) (b audit.Block, status, errMsg string)
	SendHeartbeat(req HeartbeatRequest)
	TriggerElection(term int64, address string) (vote bool)
	NotifyLeadership(address string)
}
