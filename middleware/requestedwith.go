package middleware

import (
	"github.com/multiwiki/httpengine"
)

// RequestedWith returns a SecurityCheck implementing requestedWithHeader: the
// request's X-Requested-With header must equal one of tokens, or the request
// is rejected with FORBIDDEN. This is the CSRF defence named in SPEC_FULL
// §4.5 step 5 — routes that accept state-changing requests from a browser
// register it alongside their other per-node security checks.
func RequestedWith(tokens ...string) httpengine.SecurityCheck {
	allowed := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		allowed[t] = true
	}

	return func(rs *httpengine.RequestState) *httpengine.SendError {
		got := rs.Headers.Get("x-requested-with")
		if got == "" || !allowed[got] {
			return httpengine.NewSendError(httpengine.ReasonForbidden, 403, "missing or invalid X-Requested-With header")
		}
		return nil
	}
}
