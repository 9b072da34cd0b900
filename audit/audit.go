// Package audit defines the wire-level data model shared by every
// component of a replica: the signed audit record clients submit, and the
// block that batches a committed set of them.
package audit

// FileInfo identifies the file a record describes access to.
type FileInfo struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

// UserInfo identifies the actor that performed the access.
type UserInfo struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// Audit is the atomic, client-signed unit of the ledger. ReqID is the
// cluster-wide dedup key; Timestamp is milliseconds since the Unix epoch
// and is used only for deterministic ordering and logging, never for
// wall-clock decisions.
type Audit struct {
	ReqID      string   `json:"req_id"`
	FileInfo   FileInfo `json:"file_info"`
	UserInfo   UserInfo `json:"user_info"`
	AccessType string   `json:"access_type"`
	Timestamp  int64    `json:"timestamp"`
	Signature  string   `json:"signature"`
	PublicKey  string   `json:"public_key"`
}

// Block is an ordered, cryptographically linked batch of audits.
type Block struct {
	ID           int64    `json:"id"`
	PreviousHash string   `json:"previous_hash"`
	MerkleRoot   string   `json:"merkle_root"`
	Audits       []Audit  `json:"audits"`
	Hash         string   `json:"hash"`
}

// Meta is the projection of a Block that ChainStore persists and indexes;
// the full audit payload is written as a side artifact (see artifact.Store.Path).
type Meta struct {
	ID           int64  `json:"id"`
	Hash         string `json:"hash"`
	PreviousHash string `json:"previous_hash"`
	MerkleRoot   string `json:"merkle_root"`
}

// ReqIDs returns the req_id of every audit in the block, in order.
func (b *Block) ReqIDs() []string {
	ids := make([]string, len(b.Audits))
	for i, a := range b.Audits {
		ids[i] = a.ReqID
	}
	return ids
}

// Meta projects a Block down to the BlockMeta fields ChainStore persists.
func (b *Block) Meta() Meta {
	return Meta{
		ID:           b.ID,
		Hash:         b.Hash,
		PreviousHash: b.PreviousHash,
		MerkleRoot:   b.MerkleRoot,
	}
}
