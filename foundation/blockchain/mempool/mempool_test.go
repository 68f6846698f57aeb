package mempool_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/mempool"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

var epoch = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func tx(id string, offset time.Duration) database.Tx {
	return database.Tx{
		ID:      id,
		Kind:    "DEPOSIT",
		Created: epoch.Add(offset),
		Status:  database.TxStatusPending,
	}
}

func ids(txs []database.Tx) string {
	s := ""
	for _, tx := range txs {
		s += tx.ID
	}
	return s
}

func TestCRUD(t *testing.T) {
	type table struct {
		name   string
		txs    []database.Tx
		oldest string
	}

	tt := []table{
		{
			name:   "basic",
			txs:    []database.Tx{tx("c", 3*time.Second), tx("a", time.Second), tx("d", 4*time.Second), tx("b", 2*time.Second)},
			oldest: "abcd",
		},
		{
			name:   "same-time",
			txs:    []database.Tx{tx("z", 0), tx("x", 0), tx("y", 0)},
			oldest: "xyz",
		},
	}

	t.Log("Given the need to validate mempool api.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling a set of transaction.", testID)
			{
				f := func(t *testing.T) {
					mp := mempool.New()

					for _, tx := range tst.txs {
						mp.Upsert(tx)
					}
					t.Logf("\t%s\tTest %d:\tShould be able to add new transactions.", success, testID)

					if got := ids(mp.Copy()); got != tst.oldest {
						t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, got)
						t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, tst.oldest)
						t.Fatalf("\t%s\tTest %d:\tShould get back the oldest first.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get back the oldest first.", success, testID)

					mp.Delete(tst.txs[0].ID)
					if mp.Count() != len(tst.txs)-1 {
						t.Fatalf("\t%s\tTest %d:\tShould be able to remove a transaction.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould be able to remove a transaction.", success, testID)

					mp.Truncate()
					if mp.Count() != 0 {
						t.Fatalf("\t%s\tTest %d:\tShould be able to truncate mempool.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould be able to truncate mempool.", success, testID)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func TestReserve(t *testing.T) {
	t.Log("Given the need to hand transactions to one sealer at a time.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen picking batches while another batch is in flight.", testID)
		{
			mp := mempool.New()
			for i := 0; i < 5; i++ {
				mp.Upsert(tx(fmt.Sprintf("t%d", i), time.Duration(i)*time.Second))
			}

			first := mp.PickOldest(2)
			if got := ids(first); got != "t0t1" {
				t.Fatalf("\t%s\tTest %d:\tShould pick the two oldest: %s", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould pick the two oldest.", success, testID)

			second := mp.PickOldest(-1)
			if got := ids(second); got != "t2t3t4" {
				t.Fatalf("\t%s\tTest %d:\tShould skip reserved transactions: %s", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould skip reserved transactions.", success, testID)

			if _, err := mp.Reserve("t1"); !errors.Is(err, mempool.ErrReserved) {
				t.Fatalf("\t%s\tTest %d:\tShould not reserve a transaction twice: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not reserve a transaction twice.", success, testID)

			if mp.Available() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould have nothing available: %d", failed, testID, mp.Available())
			}
			t.Logf("\t%s\tTest %d:\tShould have nothing available.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a sealer releases and removes transactions.", testID)
		{
			mp := mempool.New()
			mp.Upsert(tx("a", 0))
			mp.Upsert(tx("b", time.Second))

			if _, err := mp.Reserve("a"); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to reserve: %v", failed, testID, err)
			}

			changed := mp.Changed()
			mp.Release("a")

			select {
			case <-changed:
				t.Logf("\t%s\tTest %d:\tShould signal the release.", success, testID)
			default:
				t.Fatalf("\t%s\tTest %d:\tShould signal the release.", failed, testID)
			}

			if got := ids(mp.PickOldest(1)); got != "a" {
				t.Fatalf("\t%s\tTest %d:\tShould pick a released transaction again: %s", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould pick a released transaction again.", success, testID)

			mp.Delete("a")
			if _, exists := mp.Get("a"); exists || mp.Available() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould remove a sealed transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould remove a sealed transaction.", success, testID)

			if _, err := mp.Reserve("missing"); !errors.Is(err, mempool.ErrNotFound) {
				t.Fatalf("\t%s\tTest %d:\tShould not reserve an unknown transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not reserve an unknown transaction.", success, testID)
		}
	}
}
