// Package genesis maintains access to the genesis file that holds the
// parameters of the ledger.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ardanlabs/coopledger/foundation/blockchain/hasher"
)

// Set of default values used when the genesis file leaves them out.
const (
	DefaultTransPerBlock = 10
	DefaultSealRetries   = 5
)

// Genesis represents the genesis file.
type Genesis struct {
	Date          time.Time `json:"date"`
	LedgerID      string    `json:"ledger_id"`       // Identifies this ledger instance, usually the cooperative.
	TransPerBlock uint16    `json:"trans_per_block"` // The maximum number of transactions that can be in a batch.
	Difficulty    uint16    `json:"difficulty"`      // How difficult it needs to be to solve the work problem.
	SealRetries   uint16    `json:"seal_retries"`    // Number of times a seal is redone after the head moved.
}

// =============================================================================

// Load opens and consumes the genesis file at the specified path.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, fmt.Errorf("decoding %s: %w", path, err)
	}

	genesis = genesis.withDefaults()
	if err := genesis.Validate(); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// Default returns the parameters used when there is no genesis file.
func Default() Genesis {
	return Genesis{
		Date:          time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		LedgerID:      "coopledger",
		Difficulty:    3,
		TransPerBlock: DefaultTransPerBlock,
		SealRetries:   DefaultSealRetries,
	}
}

// Validate checks the parameters are usable.
func (g Genesis) Validate() error {
	if int(g.Difficulty) > hasher.Size {
		return fmt.Errorf("difficulty %d is larger than the hash size %d", g.Difficulty, hasher.Size)
	}

	if g.TransPerBlock == 0 {
		return fmt.Errorf("trans_per_block must be positive")
	}

	return nil
}

func (g Genesis) withDefaults() Genesis {
	if g.TransPerBlock == 0 {
		g.TransPerBlock = DefaultTransPerBlock
	}

	if g.SealRetries == 0 {
		g.SealRetries = DefaultSealRetries
	}

	return g
}
