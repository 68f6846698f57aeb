package commands

import (
	"context"
	"fmt"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/storage/badger"
	"github.com/ardanlabs/coopledger/foundation/logger"
	"github.com/spf13/cobra"
)

var (
	validateBadger   string
	validateMerkle   bool
	validatePayloads bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Walk the ledger and report the first integrity violation.",
	Long: `Walk the ledger and report the first integrity violation. With --badger
the ledger files are opened directly, which requires the service to be
stopped. Otherwise the running service is asked to do the walk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := database.ValidateOptions{
			Merkle:   validateMerkle,
			Payloads: validatePayloads,
		}

		var report database.Report
		var err error

		switch validateBadger {
		case "":
			report, err = client().Validate(cmd.Context(), opts)
		default:
			report, err = ValidateBadger(cmd.Context(), validateBadger, opts)
		}
		if err != nil {
			return err
		}

		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}

		if !report.Valid {
			return fmt.Errorf("ledger integrity violation at block %d: %s", report.Violation.BlockNumber, report.Violation.Kind)
		}

		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateBadger, "badger", "b", "", "Path to the badger ledger directory.")
	validateCmd.Flags().BoolVarP(&validateMerkle, "merkle", "m", true, "Recompute the merkle roots from the stored transactions.")
	validateCmd.Flags().BoolVarP(&validatePayloads, "payloads", "p", false, "Recompute the content hashes from the retained payloads.")

	rootCmd.AddCommand(validateCmd)
}

// ValidateBadger walks the ledger stored in the badger directory.
func ValidateBadger(ctx context.Context, path string, opts database.ValidateOptions) (database.Report, error) {
	log, err := logger.New("ADMIN", "stderr")
	if err != nil {
		return database.Report{}, err
	}
	defer log.Sync()

	storage, err := badger.New(badger.Config{
		Path: path,
		Log:  log,
	})
	if err != nil {
		return database.Report{}, fmt.Errorf("opening badger storage: %w", err)
	}

	db, err := database.New(storage, func(v string, args ...any) {
		log.Debugf(v, args...)
	})
	if err != nil {
		storage.Close()
		return database.Report{}, err
	}
	defer db.Close()

	return db.ValidateChain(ctx, opts)
}
