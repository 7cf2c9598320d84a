// Package blockheader implements the block header fetcher (C10):
// a pluggable HTTP client that retrieves the latest Bitcoin block
// header and derives the previous-block hash in both the canonical
// display order and the 8-byte-group reversed order L3 matches
// against scannable process memory.
package blockheader

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/baikal/sentinel/internal/model"
)

const defaultEndpoint = "https://mempool.space/api/block/tip/header"

// rawHeader mirrors mempool.space's block-detail JSON shape (the
// teacher-adjacent listenbitcoin.py original's get_latest_block_header_mempool).
type rawHeader struct {
	Version           int64  `json:"version"`
	PreviousBlockHash string `json:"previousblockhash"`
	MerkleRoot        string `json:"merkle_root"`
	Timestamp         int64  `json:"timestamp"`
	Bits              string `json:"bits"`
	Nonce             int64  `json:"nonce"`
}

// Fetcher retrieves the current block header from a configurable
// endpoint. The zero value is not usable; build one with New.
type Fetcher struct {
	endpoint string
	client   *http.Client
}

// New builds a Fetcher against endpoint, defaulting to mempool.space's
// block-tip header endpoint when endpoint is empty. The HTTP client
// enforces a 5 second timeout regardless of caller context deadlines.
func New(endpoint string) *Fetcher {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Fetcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Fetch performs one GET against the configured endpoint and parses
// the response into a BlockHeaderProbe. The core never caches this
// result across polls; every call hits the network.
func (f *Fetcher) Fetch(ctx context.Context) (model.BlockHeaderProbe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return model.BlockHeaderProbe{}, fmt.Errorf("blockheader: build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return model.BlockHeaderProbe{}, fmt.Errorf("blockheader: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.BlockHeaderProbe{}, fmt.Errorf("blockheader: unexpected status %d", resp.StatusCode)
	}

	var raw rawHeader
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return model.BlockHeaderProbe{}, fmt.Errorf("blockheader: decode: %w", err)
	}

	return buildProbe(raw)
}

func buildProbe(raw rawHeader) (model.BlockHeaderProbe, error) {
	canonical, err := canonicalHash(raw.PreviousBlockHash)
	if err != nil {
		return model.BlockHeaderProbe{}, fmt.Errorf("blockheader: previous_block_hash: %w", err)
	}

	modified, err := groupReverse(canonical)
	if err != nil {
		return model.BlockHeaderProbe{}, fmt.Errorf("blockheader: group-reverse: %w", err)
	}

	return model.BlockHeaderProbe{
		PreviousBlockHash:       canonical,
		PreviousBlockHashModify: modified,
		MerkleRoot:              raw.MerkleRoot,
		Timestamp:               raw.Timestamp,
		Bits:                    raw.Bits,
		Nonce:                   raw.Nonce,
		Version:                 raw.Version,
	}, nil
}

// canonicalHash validates that s is a well-formed 32-byte hash string
// and returns it in lowercase canonical display order. A value that is
// not exactly 64 characters is rejected here, since chainhash would
// zero-pad a short one; non-hex content is rejected by chainhash.Hash
// the same way the rest of the Bitcoin-handling ecosystem would.
func canonicalHash(s string) (string, error) {
	if len(s) != chainhash.MaxHashStringSize {
		return "", fmt.Errorf("expected %d hex characters, got %d", chainhash.MaxHashStringSize, len(s))
	}
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// groupReverse implements the previous-block-hash word-swap transform:
// split the 64-character hex string into eight 8-character groups and
// reverse the order of the groups, leaving each group's internal byte
// order untouched. This is distinct from chainhash's own internal byte
// reversal (which reverses every byte, not every 4-byte word), so it
// is computed by hand rather than read off chainhash.Hash's raw bytes.
func groupReverse(hash string) (string, error) {
	if len(hash) != 64 {
		return "", fmt.Errorf("expected 64 hex characters, got %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(64)
	for i := 7; i >= 0; i-- {
		b.WriteString(hash[i*8 : i*8+8])
	}
	return b.String(), nil
}
