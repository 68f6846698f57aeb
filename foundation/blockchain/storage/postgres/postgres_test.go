package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/storage/postgres"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// dsnEnv names the environment variable holding the connection string of a
// scratch database. The tests are skipped when it is not set.
const dsnEnv = "LEDGER_TEST_POSTGRES_DSN"

func Test_Postgres(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	t.Log("Given the need to store the ledger in postgres.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen appending blocks and reloading the ledger.", testID)
		{
			store, err := postgres.New(postgres.Config{DSN: dsn})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to connect: %v", failed, testID, err)
			}
			defer store.Close()

			if err := store.Reset(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to reset: %v", failed, testID, err)
			}

			db, err := database.New(store, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to load the ledger: %v", failed, testID, err)
			}

			epoch := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

			var prev *database.Block
			var trans []database.Tx
			for i := 1; i <= 3; i++ {
				userTx := database.UserTx{
					Kind:    "LOAN_REPAYMENT",
					Subject: fmt.Sprintf("M-%03d", i),
					Amount:  int64(250 * i),
					Payload: map[string]any{"loan": fmt.Sprintf("L-%d", i), "amount": 250 * i},
				}

				tx, err := database.NewTx(userTx, fmt.Sprintf("tx-%03d", i), epoch.Add(time.Duration(i)*time.Second), true)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to construct a transaction: %v", failed, testID, err)
				}
				if err := db.SaveTx(tx); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to save %s: %v", failed, testID, tx.ID, err)
				}
				trans = append(trans, tx)

				block, err := database.Seal(context.Background(), database.SealArgs{
					PrevBlock:  prev,
					Difficulty: 1,
					Trans:      []database.Tx{tx},
				})
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to seal: %v", failed, testID, err)
				}

				block, err = db.AppendHead(block)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to append block %d: %v", failed, testID, i, err)
				}
				prev = &block
			}
			t.Logf("\t%s\tTest %d:\tShould be able to append 3 blocks.", success, testID)

			stale, err := database.Seal(context.Background(), database.SealArgs{
				Difficulty: 1,
				Trans:      trans[:1],
			})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to seal: %v", failed, testID, err)
			}

			if err := store.AppendBlock(stale); !errors.Is(err, database.ErrStaleHead) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a second genesis: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a second genesis.", success, testID)

			reloaded, err := database.New(store, nil)
			if err != nil || reloaded.Height() != 3 {
				t.Fatalf("\t%s\tTest %d:\tShould reload 3 blocks: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reload 3 blocks.", success, testID)

			report, err := reloaded.ValidateChain(context.Background(), database.ValidateOptions{Merkle: true, Payloads: true})
			if err != nil || !report.Valid {
				t.Fatalf("\t%s\tTest %d:\tShould validate the chain: %+v %v", failed, testID, report, err)
			}
			t.Logf("\t%s\tTest %d:\tShould validate the chain.", success, testID)
		}
	}
}
