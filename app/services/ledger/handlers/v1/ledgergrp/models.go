package ledgergrp

import (
	"encoding/json"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
)

// newTx is what a business service posts to record an event.
type newTx struct {
	Kind        string          `json:"kind" validate:"required"`
	Subject     string          `json:"subject" validate:"required"`
	Scope       string          `json:"scope" validate:"required"`
	Amount      int64           `json:"amount"`
	OffChainRef string          `json:"off_chain_ref"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
}

func toUserTx(ntx newTx) database.UserTx {
	return database.UserTx{
		Kind:        ntx.Kind,
		Subject:     ntx.Subject,
		Scope:       ntx.Scope,
		Amount:      ntx.Amount,
		OffChainRef: ntx.OffChainRef,
		Payload:     ntx.Payload,
	}
}

// failTx carries the reason a pending transaction is withdrawn.
type failTx struct {
	Reason string `json:"reason" validate:"required"`
}

// blockList is the response for a range of blocks.
type blockList struct {
	Height uint64           `json:"height"`
	Blocks []database.Block `json:"blocks"`
}
