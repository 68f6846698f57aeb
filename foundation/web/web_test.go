package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ardanlabs/coopledger/foundation/web"
)

const (
	success = "\u2713"
	failed  = "\u2717"
)

type member struct {
	Subject string `json:"subject" validate:"required"`
	Scope   string `json:"scope" validate:"required"`
}

func TestApp(t *testing.T) {
	shutdown := make(chan os.Signal, 1)
	app := web.NewApp(shutdown)

	app.Handle(http.MethodPost, "v1", "/members/:scope", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var m member
		if err := web.Decode(r, &m); err != nil {
			return web.Respond(ctx, w, web.GetFieldErrors(err), http.StatusBadRequest)
		}

		if m.Scope != web.Param(r, "scope") {
			return web.NewShutdownError("scope mismatch")
		}

		return web.Respond(ctx, w, m, http.StatusCreated)
	})

	call := func(path string, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		app.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		return w
	}

	t.Log("Given the need to route and decode requests.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen posting a valid document.", testID)
		{
			w := call("/v1/members/coop-1", `{"subject":"member-1","scope":"coop-1"}`)
			if w.Code != http.StatusCreated {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 201 for the response : %v", failed, testID, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("\t%s\tTest %d:\tShould respond with json : %s", failed, testID, ct)
			}
			t.Logf("\t%s\tTest %d:\tShould respond with the document.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen posting a document missing a field.", testID)
		{
			w := call("/v1/members/coop-1", `{"scope":"coop-1"}`)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 400 for the response : %v", failed, testID, w.Code)
			}

			var fields web.FieldErrors
			if err := json.NewDecoder(w.Body).Decode(&fields); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal the response : %s", failed, testID, err)
			}
			if len(fields) != 1 || fields[0].Field != "subject" {
				t.Fatalf("\t%s\tTest %d:\tShould name the json field : %+v", failed, testID, fields)
			}
			t.Logf("\t%s\tTest %d:\tShould name the json field.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a handler reports an integrity failure.", testID)
		{
			call("/v1/members/coop-2", `{"subject":"member-1","scope":"coop-1"}`)

			select {
			case <-shutdown:
				t.Logf("\t%s\tTest %d:\tShould signal a shutdown.", success, testID)
			default:
				t.Fatalf("\t%s\tTest %d:\tShould signal a shutdown.", failed, testID)
			}
		}
	}
}
