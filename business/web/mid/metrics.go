package mid

import (
	"context"
	"net/http"
	"time"

	"github.com/ardanlabs/coopledger/business/sys/metrics"
	"github.com/ardanlabs/coopledger/foundation/web"
)

// Metrics updates program counters for every request. It must run outside
// of the Errors middleware so the final status code is known.
func Metrics(mtr *metrics.Metrics) web.Middleware {

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			start := time.Now()

			// Call the next handler.
			err := handler(ctx, w, r)

			status := http.StatusInternalServerError
			if v, verr := web.GetValues(ctx); verr == nil && v.StatusCode != 0 {
				status = v.StatusCode
			}

			mtr.Request(r.Method, status, time.Since(start))
			if err != nil || status >= http.StatusInternalServerError {
				mtr.Error()
			}

			// Return the error so it can be handled further up the chain.
			return err
		}

		return h
	}

	return m
}
