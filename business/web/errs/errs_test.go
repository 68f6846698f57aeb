package errs_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ardanlabs/coopledger/business/web/errs"
)

const (
	success = "\u2713"
	failed  = "\u2717"
)

func TestTranslate(t *testing.T) {
	errMissing := errors.New("missing")
	errBusy := errors.New("busy")

	tt := []struct {
		name   string
		err    error
		status int
	}{
		{"missing", fmt.Errorf("query: %w", errMissing), http.StatusNotFound},
		{"busy", errBusy, http.StatusConflict},
		{"unknown", errors.New("boom"), 0},
	}

	t.Log("Given the need to translate ledger errors into client errors.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen handling the %s error.", testID, tst.name)
				{
					err := errs.Translate(tst.err, errs.NotFound(errMissing), errs.Conflict(errBusy))

					te := errs.GetTrusted(err)
					switch {
					case tst.status == 0 && te != nil:
						t.Fatalf("\t%s\tTest %d:\tShould leave the error untrusted.", failed, testID)
					case tst.status != 0 && (te == nil || te.Status != tst.status):
						t.Fatalf("\t%s\tTest %d:\tShould map the error to status %d.", failed, testID, tst.status)
					}
					t.Logf("\t%s\tTest %d:\tShould map the error to the expected status.", success, testID)

					if !errors.Is(err, tst.err) {
						t.Fatalf("\t%s\tTest %d:\tShould keep the original error in the chain.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould keep the original error in the chain.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}
