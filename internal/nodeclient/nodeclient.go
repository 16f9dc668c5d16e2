// Package nodeclient implements the remote chain node HTTP interface
// consumed by the sync engine (spec.md §6): getNodeInfo, getHashList,
// fetchBlockByHash. Plain net/http + encoding/json: the upstream is a simple
// JSON-over-HTTP API, and no example repo carries a generic REST client
// library that fits better than the standard library here.
package nodeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/xloem/vartex/internal/model"
)

// Client is the interface the sync engine depends on (spec.md §6). Tests
// substitute a hand-written fake (see SPEC_FULL.md "Test tooling").
type Client interface {
	GetNodeInfo(ctx context.Context) (*model.NodeInfo, error)
	GetHashList(ctx context.Context) (model.HashList, error)
	FetchBlockByHash(ctx context.Context, hash string) (*model.Block, error)
}

type httpClient struct {
	baseURL string
	hc      *http.Client
}

// New returns a Client talking to baseURL, e.g. "https://arweave.net".
func New(baseURL string) Client {
	return &httpClient{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *httpClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrapf(err, "building request for %s", path)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "requesting %s", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding response from %s", path)
	}
	return nil
}

// GetNodeInfo returns nil, nil when the node has nothing to report (spec.md
// §4.6 startPolling step 1: "On nil, sleep and retry").
func (c *httpClient) GetNodeInfo(ctx context.Context) (*model.NodeInfo, error) {
	var info model.NodeInfo
	if err := c.get(ctx, "/info", &info); err != nil {
		return nil, err
	}
	if info.Current == "" {
		return nil, nil
	}
	return &info, nil
}

func (c *httpClient) GetHashList(ctx context.Context) (model.HashList, error) {
	var list model.HashList
	if err := c.get(ctx, "/hash_list", &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *httpClient) FetchBlockByHash(ctx context.Context, hash string) (*model.Block, error) {
	var block model.Block
	if err := c.get(ctx, fmt.Sprintf("/block/hash/%s", hash), &block); err != nil {
		return nil, err
	}
	block.Transactions = make([]model.Transaction, 0, len(block.Txs))
	for _, txID := range block.Txs {
		var tx model.Transaction
		if err := c.get(ctx, fmt.Sprintf("/tx/%s", txID), &tx); err != nil {
			return nil, errors.Wrapf(err, "fetching tx %s for block %s", txID, hash)
		}
		block.Transactions = append(block.Transactions, tx)
	}
	return &block, nil
}
