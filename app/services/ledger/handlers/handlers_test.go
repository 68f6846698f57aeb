package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ardanlabs/coopledger/app/services/ledger/handlers"
	"github.com/ardanlabs/coopledger/business/sys/metrics"
	"github.com/ardanlabs/coopledger/business/web/errs"
	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/coopledger/foundation/blockchain/state"
	"github.com/ardanlabs/coopledger/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/coopledger/foundation/events"
	"go.uber.org/zap"
)

const (
	success = "\u2713"
	failed  = "\u2717"
)

// ledgerTests holds methods for each ledger subtest. This type allows
// passing dependencies for tests while still providing a convenient
// syntax when subtests are registered.
type ledgerTests struct {
	app   http.Handler
	debug http.Handler
	state *state.State
}

func newLedgerTests(t *testing.T) *ledgerTests {
	storage, err := memory.New()
	if err != nil {
		t.Fatalf("Should be able to construct storage : %s", err)
	}

	mtr := metrics.New()

	st, err := state.New(state.Config{
		Genesis: genesis.Genesis{
			LedgerID:      "TEST",
			Difficulty:    1,
			TransPerBlock: 10,
			SealRetries:   5,
		},
		Storage:        storage,
		RetainPayloads: true,
		Metrics:        mtr,
	})
	if err != nil {
		t.Fatalf("Should be able to construct the ledger : %s", err)
	}
	t.Cleanup(func() { st.Shutdown() })

	log := zap.NewNop().Sugar()

	return &ledgerTests{
		app: handlers.PublicMux(handlers.MuxConfig{
			Shutdown: make(chan os.Signal, 1),
			Log:      log,
			State:    st,
			Evts:     events.New(),
			Metrics:  mtr,
		}),
		debug: handlers.DebugMux("test", log, st, mtr),
		state: st,
	}
}

func (lt *ledgerTests) call(method string, path string, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	lt.app.ServeHTTP(w, req)

	return w
}

// =============================================================================

func TestLedger(t *testing.T) {
	lt := newLedgerTests(t)

	var id string

	t.Run("submit", func(t *testing.T) { id = lt.submit(t) })
	t.Run("submitValidation", lt.submitValidation)
	t.Run("pending", func(t *testing.T) { lt.pending(t, id) })
	t.Run("seal", func(t *testing.T) { lt.seal(t, id) })
	t.Run("verify", func(t *testing.T) { lt.verify(t, id) })
	t.Run("failConfirmed", func(t *testing.T) { lt.failConfirmed(t, id) })
	t.Run("fail", lt.fail)
	t.Run("notFound", lt.notFound)
	t.Run("status", lt.status)
	t.Run("validate", lt.validate)
	t.Run("signalWithoutWorker", lt.signalWithoutWorker)
	t.Run("debug", lt.debugEndpoints)
}

func (lt *ledgerTests) submit(t *testing.T) string {
	body := `{"kind":"DEPOSIT","subject":"member-1","scope":"coop-1","amount":2500,"off_chain_ref":"dep-1","payload":{"member":"member-1","amount":2500}}`

	t.Log("Given the need to record a business transaction.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen posting a deposit.", testID)
		{
			w := lt.call(http.MethodPost, "/v1/tx/submit", body)
			if w.Code != http.StatusCreated {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 201 for the response : %v : %s", failed, testID, w.Code, w.Body)
			}
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 201 for the response.", success, testID)

			var tx database.Tx
			if err := json.NewDecoder(w.Body).Decode(&tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal the response : %s", failed, testID, err)
			}

			if tx.ID == "" || tx.Status != database.TxStatusPending || tx.Amount != 2500 || len(tx.ContentHash) != 64 {
				t.Fatalf("\t%s\tTest %d:\tShould get back a pending record with a content hash : %+v", failed, testID, tx)
			}
			t.Logf("\t%s\tTest %d:\tShould get back a pending record with a content hash.", success, testID)

			return tx.ID
		}
	}
}

func (lt *ledgerTests) submitValidation(t *testing.T) {
	t.Log("Given the need to reject incomplete transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen posting a transaction without a kind and payload.", testID)
		{
			w := lt.call(http.MethodPost, "/v1/tx/submit", `{"subject":"member-1","scope":"coop-1"}`)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 400 for the response : %v", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 400 for the response.", success, testID)

			var resp errs.Response
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal the response : %s", failed, testID, err)
			}

			if _, exists := resp.Fields["kind"]; !exists {
				t.Fatalf("\t%s\tTest %d:\tShould report the kind field : %+v", failed, testID, resp)
			}
			if _, exists := resp.Fields["payload"]; !exists {
				t.Fatalf("\t%s\tTest %d:\tShould report the payload field : %+v", failed, testID, resp)
			}
			t.Logf("\t%s\tTest %d:\tShould report the missing fields.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen posting a malformed document.", testID)
		{
			w := lt.call(http.MethodPost, "/v1/tx/submit", `{"kind":`)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 400 for the response : %v", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 400 for the response.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen posting a payload that is not valid utf-8.", testID)
		{
			w := lt.call(http.MethodPost, "/v1/tx/submit", "{\"kind\":\"DEPOSIT\",\"subject\":\"member-1\",\"scope\":\"coop-1\",\"payload\":{\"note\":\"a\xffb\"}}")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 400 for the response : %v : %s", failed, testID, w.Code, w.Body)
			}
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 400 for the response.", success, testID)
		}
	}
}

func (lt *ledgerTests) pending(t *testing.T, id string) {
	t.Log("Given the need to list the pending transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen one transaction was submitted.", testID)
		{
			w := lt.call(http.MethodGet, "/v1/tx/pending/list", "")
			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 200 for the response : %v", failed, testID, w.Code)
			}

			var txs []database.Tx
			if err := json.NewDecoder(w.Body).Decode(&txs); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal the response : %s", failed, testID, err)
			}

			if len(txs) != 1 || txs[0].ID != id {
				t.Fatalf("\t%s\tTest %d:\tShould list the submitted transaction : %+v", failed, testID, txs)
			}
			t.Logf("\t%s\tTest %d:\tShould list the submitted transaction.", success, testID)
		}
	}
}

func (lt *ledgerTests) seal(t *testing.T, id string) {
	t.Log("Given the need to seal a transaction right away.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen sealing the pending transaction.", testID)
		{
			w := lt.call(http.MethodPost, "/v1/tx/seal/"+id, "")
			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 200 for the response : %v : %s", failed, testID, w.Code, w.Body)
			}
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 200 for the response.", success, testID)

			var block database.Block
			if err := json.NewDecoder(w.Body).Decode(&block); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal the response : %s", failed, testID, err)
			}

			if block.Header.Number != 0 || len(block.TxIDs) != 1 || block.TxIDs[0] != id {
				t.Fatalf("\t%s\tTest %d:\tShould get back the genesis block holding the transaction : %+v", failed, testID, block)
			}
			t.Logf("\t%s\tTest %d:\tShould get back the genesis block holding the transaction.", success, testID)

			w = lt.call(http.MethodGet, "/v1/blocks/hash/"+block.Hash, "")
			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould find the block by hash : %v", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould find the block by hash.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen sealing the same transaction again.", testID)
		{
			w := lt.call(http.MethodPost, "/v1/tx/seal/"+id, "")
			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 200 for the response : %v", failed, testID, w.Code)
			}

			if blocks := lt.state.QueryBlocks(0, state.QueryLatest); len(blocks) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould not seal a second block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not seal a second block.", success, testID)
		}
	}
}

func (lt *ledgerTests) verify(t *testing.T, id string) {
	t.Log("Given the need to verify a sealed transaction.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen verifying the confirmed transaction.", testID)
		{
			w := lt.call(http.MethodGet, "/v1/tx/verify/"+id, "")
			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 200 for the response : %v", failed, testID, w.Code)
			}

			var ver state.Verification
			if err := json.NewDecoder(w.Body).Decode(&ver); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal the response : %s", failed, testID, err)
			}

			if !ver.Verified || ver.Status != database.TxStatusConfirmed {
				t.Fatalf("\t%s\tTest %d:\tShould be verified : %+v", failed, testID, ver)
			}
			t.Logf("\t%s\tTest %d:\tShould be verified.", success, testID)

			w = lt.call(http.MethodGet, "/v1/tx/"+id, "")

			var tx database.Tx
			if err := json.NewDecoder(w.Body).Decode(&tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal the response : %s", failed, testID, err)
			}

			if tx.Status != database.TxStatusConfirmed || tx.BlockHash != ver.BlockHash {
				t.Fatalf("\t%s\tTest %d:\tShould reference the sealing block : %+v", failed, testID, tx)
			}
			t.Logf("\t%s\tTest %d:\tShould reference the sealing block.", success, testID)
		}
	}
}

func (lt *ledgerTests) failConfirmed(t *testing.T, id string) {
	t.Log("Given the need to protect confirmed transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen failing a confirmed transaction.", testID)
		{
			w := lt.call(http.MethodPost, "/v1/tx/fail/"+id, `{"reason":"withdrawn"}`)
			if w.Code != http.StatusConflict {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 409 for the response : %v", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 409 for the response.", success, testID)
		}
	}
}

func (lt *ledgerTests) fail(t *testing.T) {
	t.Log("Given the need to withdraw a pending transaction.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen failing a pending transaction.", testID)
		{
			w := lt.call(http.MethodPost, "/v1/tx/submit", `{"kind":"LOAN_DISBURSEMENT","subject":"member-2","scope":"coop-1","amount":100000,"payload":{"loan":"l-9"}}`)

			var tx database.Tx
			if err := json.NewDecoder(w.Body).Decode(&tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to submit : %s", failed, testID, err)
			}

			w = lt.call(http.MethodPost, "/v1/tx/fail/"+tx.ID, `{"reason":"loan rejected"}`)
			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 200 for the response : %v : %s", failed, testID, w.Code, w.Body)
			}

			if err := json.NewDecoder(w.Body).Decode(&tx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal the response : %s", failed, testID, err)
			}

			if tx.Status != database.TxStatusFailed || tx.Reason != "loan rejected" {
				t.Fatalf("\t%s\tTest %d:\tShould be failed with the reason : %+v", failed, testID, tx)
			}
			t.Logf("\t%s\tTest %d:\tShould be failed with the reason.", success, testID)

			w = lt.call(http.MethodPost, "/v1/tx/seal/"+tx.ID, "")
			if w.Code != http.StatusConflict {
				t.Fatalf("\t%s\tTest %d:\tShould refuse to seal a failed transaction : %v", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould refuse to seal a failed transaction.", success, testID)
		}
	}
}

func (lt *ledgerTests) notFound(t *testing.T) {
	t.Log("Given the need to report unknown records.")
	{
		paths := []struct {
			method string
			path   string
		}{
			{http.MethodGet, "/v1/tx/unknown"},
			{http.MethodGet, "/v1/tx/verify/unknown"},
			{http.MethodPost, "/v1/tx/seal/unknown"},
			{http.MethodGet, "/v1/blocks/hash/unknown"},
		}

		for testID, p := range paths {
			t.Logf("\tTest %d:\tWhen calling %s %s.", testID, p.method, p.path)
			{
				w := lt.call(p.method, p.path, "")
				if w.Code != http.StatusNotFound {
					t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 404 for the response : %v", failed, testID, w.Code)
				}
				t.Logf("\t%s\tTest %d:\tShould receive a status code of 404 for the response.", success, testID)
			}
		}
	}
}

func (lt *ledgerTests) status(t *testing.T) {
	t.Log("Given the need to summarize the ledger.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen one block was sealed and one transaction failed.", testID)
		{
			w := lt.call(http.MethodGet, "/v1/status", "")

			var st state.Status
			if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal the response : %s", failed, testID, err)
			}

			if st.Height != 1 || st.TotalTransactions != 2 || st.PendingCount != 0 || st.HeadHash == "" {
				t.Fatalf("\t%s\tTest %d:\tShould report the ledger summary : %+v", failed, testID, st)
			}
			t.Logf("\t%s\tTest %d:\tShould report the ledger summary.", success, testID)

			w = lt.call(http.MethodGet, "/v1/blocks/list", "")

			var list struct {
				Height uint64           `json:"height"`
				Blocks []database.Block `json:"blocks"`
			}
			if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal the response : %s", failed, testID, err)
			}

			if list.Height != 1 || len(list.Blocks) != 1 || list.Blocks[0].Hash != st.HeadHash {
				t.Fatalf("\t%s\tTest %d:\tShould list the blocks : %+v", failed, testID, list)
			}
			t.Logf("\t%s\tTest %d:\tShould list the blocks.", success, testID)

			w = lt.call(http.MethodGet, "/v1/blocks/list/3/1", "")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest %d:\tShould reject an inverted range : %v", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould reject an inverted range.", success, testID)
		}
	}
}

func (lt *ledgerTests) validate(t *testing.T) {
	t.Log("Given the need to check the integrity of the ledger.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen validating with every check turned on.", testID)
		{
			w := lt.call(http.MethodGet, "/v1/chain/validate?merkle=true&payloads=true", "")

			var report database.Report
			if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal the response : %s", failed, testID, err)
			}

			if !report.Valid || report.Checked != 1 || !report.Merkle || !report.Payloads {
				t.Fatalf("\t%s\tTest %d:\tShould report a valid ledger : %+v", failed, testID, report)
			}
			t.Logf("\t%s\tTest %d:\tShould report a valid ledger.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen passing a bad option.", testID)
		{
			w := lt.call(http.MethodGet, "/v1/chain/validate?merkle=maybe", "")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 400 for the response : %v", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 400 for the response.", success, testID)
		}
	}
}

func (lt *ledgerTests) signalWithoutWorker(t *testing.T) {
	t.Log("Given the need to signal the sealing worker.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen no worker is running.", testID)
		{
			w := lt.call(http.MethodPost, "/v1/sealing/signal", "")
			if w.Code != http.StatusServiceUnavailable {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 503 for the response : %v", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 503 for the response.", success, testID)
		}
	}
}

func (lt *ledgerTests) debugEndpoints(t *testing.T) {
	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		lt.debug.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	t.Log("Given the need to report the health of the service.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the ledger hasn't been validated yet.", testID)
		{
			if w := get("/debug/readiness"); w.Code != http.StatusServiceUnavailable {
				t.Fatalf("\t%s\tTest %d:\tShould not be ready : %v", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould not be ready.", success, testID)

			if w := get("/debug/liveness"); w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould be alive : %v", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould be alive.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the ledger passed validation.", testID)
		{
			if _, err := lt.state.HealthCheck(context.Background(), database.ValidateOptions{Merkle: true}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to run the health check : %s", failed, testID, err)
			}

			if w := get("/debug/readiness"); w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould be ready : %v", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould be ready.", success, testID)

			w := get("/metrics")
			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould expose the metrics : %v", failed, testID, w.Code)
			}

			body := w.Body.String()
			for _, name := range []string{"coopledger_ledger_blocks_sealed_total 1", "coopledger_ledger_height 1", "coopledger_ledger_healthy 1", "coopledger_api_requests_total"} {
				if !strings.Contains(body, name) {
					t.Fatalf("\t%s\tTest %d:\tShould expose %s.", failed, testID, name)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould expose the ledger metrics.", success, testID)
		}
	}
}
