package llm

import "net/http"

// Doer issues a single HTTP request. *http.Client satisfies it; tests
// inject fakes. Cancellation travels on the request's context, so a Doer
// must honor it the way net/http does.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// defaultTransport returns the HTTP client used when none is injected.
// No client-level timeout is set: deadlines belong to the caller's
// context, and a fixed timeout would sever long-lived streaming bodies.
func defaultTransport() Doer {
	return &http.Client{}
}
