package genesis_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/coopledger/foundation/blockchain/genesis"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Load(t *testing.T) {
	type table struct {
		name    string
		content string
		valid   bool
		exp     genesis.Genesis
	}

	tt := []table{
		{
			name:    "full",
			content: `{"ledger_id":"coop-a","trans_per_block":4,"difficulty":2,"seal_retries":3}`,
			valid:   true,
			exp:     genesis.Genesis{LedgerID: "coop-a", TransPerBlock: 4, Difficulty: 2, SealRetries: 3},
		},
		{
			name:    "defaults",
			content: `{"ledger_id":"coop-b","difficulty":1}`,
			valid:   true,
			exp:     genesis.Genesis{LedgerID: "coop-b", TransPerBlock: genesis.DefaultTransPerBlock, Difficulty: 1, SealRetries: genesis.DefaultSealRetries},
		},
		{
			name:    "difficulty",
			content: `{"difficulty":65}`,
		},
		{
			name:    "json",
			content: `{"difficulty":`,
		},
	}

	t.Log("Given the need to load the ledger parameters.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen loading the %s genesis file.", testID, tst.name)
				{
					path := filepath.Join(t.TempDir(), "genesis.json")
					if err := os.WriteFile(path, []byte(tst.content), 0600); err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to write the file: %v", failed, testID, err)
					}

					g, err := genesis.Load(path)
					if !tst.valid {
						if err == nil {
							t.Fatalf("\t%s\tTest %d:\tShould reject the file.", failed, testID)
						}
						t.Logf("\t%s\tTest %d:\tShould reject the file.", success, testID)
						return
					}

					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to load the file: %v", failed, testID, err)
					}

					if g != tst.exp {
						t.Logf("\t%s\tTest %d:\tgot: %+v", failed, testID, g)
						t.Logf("\t%s\tTest %d:\texp: %+v", failed, testID, tst.exp)
						t.Fatalf("\t%s\tTest %d:\tShould get back the parameters.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get back the parameters.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}
