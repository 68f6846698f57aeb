package commands

import (
	"encoding/json"
	"fmt"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the summary of the ledger.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := client().Status(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var (
	blocksFrom string
	blocksTo   string
)

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Print a range of blocks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := client().Blocks(cmd.Context(), blocksFrom, blocksTo)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), list)
	},
}

var (
	submitKind    string
	submitSubject string
	submitScope   string
	submitAmount  int64
	submitRef     string
	submitPayload string
	submitSeal    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Record a business transaction.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !json.Valid([]byte(submitPayload)) {
			return fmt.Errorf("payload is not a json document: %s", submitPayload)
		}

		c := client()

		tx, err := c.Submit(cmd.Context(), database.UserTx{
			Kind:        submitKind,
			Subject:     submitSubject,
			Scope:       submitScope,
			Amount:      submitAmount,
			OffChainRef: submitRef,
			Payload:     json.RawMessage(submitPayload),
		})
		if err != nil {
			return err
		}

		if !submitSeal {
			return printJSON(cmd.OutOrStdout(), tx)
		}

		block, err := c.Seal(cmd.Context(), tx.ID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), block)
	},
}

var sealCmd = &cobra.Command{
	Use:   "seal <tx-id>",
	Short: "Seal a pending transaction into a block right away.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		block, err := client().Seal(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), block)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <tx-id>",
	Short: "Verify a transaction against the block it was sealed in.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ver, err := client().Verify(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), ver)
	},
}

func init() {
	blocksCmd.Flags().StringVarP(&blocksFrom, "from", "f", "", "First block number, or latest.")
	blocksCmd.Flags().StringVarP(&blocksTo, "to", "o", "", "Last block number, or latest.")

	submitCmd.Flags().StringVarP(&submitKind, "kind", "k", "", "Category of the transaction, such as DEPOSIT.")
	submitCmd.Flags().StringVarP(&submitSubject, "subject", "s", "", "Member or account identifier.")
	submitCmd.Flags().StringVarP(&submitScope, "scope", "c", "", "Tenant or company identifier.")
	submitCmd.Flags().Int64VarP(&submitAmount, "amount", "a", 0, "Amount in minor units.")
	submitCmd.Flags().StringVarP(&submitRef, "ref", "r", "", "Reference to the originating business record.")
	submitCmd.Flags().StringVarP(&submitPayload, "payload", "p", "{}", "Business payload as a json document.")
	submitCmd.Flags().BoolVar(&submitSeal, "seal", false, "Seal the transaction right away.")
	submitCmd.MarkFlagRequired("kind")
	submitCmd.MarkFlagRequired("subject")
	submitCmd.MarkFlagRequired("scope")

	rootCmd.AddCommand(statusCmd, blocksCmd, submitCmd, sealCmd, verifyCmd)
}

func client() *Client {
	return NewClient(url, timeout)
}
