package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ardanlabs/coopledger/business/web/errs"
	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/state"
	"github.com/go-resty/resty/v2"
)

// Client calls the ledger service api.
type Client struct {
	http *resty.Client
}

// NewClient constructs a client for the ledger service at the url.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(url).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// BlockList is a range of blocks with the height of the ledger.
type BlockList struct {
	Height uint64           `json:"height"`
	Blocks []database.Block `json:"blocks"`
}

// Status returns the summary of the ledger.
func (c *Client) Status(ctx context.Context) (state.Status, error) {
	var st state.Status
	err := c.do(ctx, "GET", "/v1/status", nil, &st)
	return st, err
}

// Blocks returns the blocks in the range. Either bound can be "latest".
func (c *Client) Blocks(ctx context.Context, from string, to string) (BlockList, error) {
	path := "/v1/blocks/list"
	if from != "" || to != "" {
		path = fmt.Sprintf("/v1/blocks/list/%s/%s", orLatest(from), orLatest(to))
	}

	var list BlockList
	err := c.do(ctx, "GET", path, nil, &list)
	return list, err
}

// Submit records a new business transaction.
func (c *Client) Submit(ctx context.Context, userTx database.UserTx) (database.Tx, error) {
	var tx database.Tx
	err := c.do(ctx, "POST", "/v1/tx/submit", userTx, &tx)
	return tx, err
}

// Seal seals the pending transaction into a block right away.
func (c *Client) Seal(ctx context.Context, id string) (database.Block, error) {
	var block database.Block
	err := c.do(ctx, "POST", "/v1/tx/seal/"+id, nil, &block)
	return block, err
}

// Verify checks the transaction against the block it was sealed in.
func (c *Client) Verify(ctx context.Context, id string) (state.Verification, error) {
	var ver state.Verification
	err := c.do(ctx, "GET", "/v1/tx/verify/"+id, nil, &ver)
	return ver, err
}

// Validate asks the service to walk the ledger.
func (c *Client) Validate(ctx context.Context, opts database.ValidateOptions) (database.Report, error) {
	var report database.Report
	path := fmt.Sprintf("/v1/chain/validate?merkle=%s&payloads=%s", strconv.FormatBool(opts.Merkle), strconv.FormatBool(opts.Payloads))
	err := c.do(ctx, "GET", path, nil, &report)
	return report, err
}

// do performs the call and decodes the result or the error response.
func (c *Client) do(ctx context.Context, method string, path string, body any, result any) error {
	var errResp errs.Response

	req := c.http.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&errResp)

	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.IsError() {
		if errResp.Error == "" {
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode())
		}
		if len(errResp.Fields) > 0 {
			return fmt.Errorf("%s %s: status %d: %s: %v", method, path, resp.StatusCode(), errResp.Error, errResp.Fields)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode(), errResp.Error)
	}

	return nil
}

func orLatest(v string) string {
	if v == "" {
		return "latest"
	}
	return v
}
