package pipeline

import "net/http"

// credentials sets the Authorization header from the stored token.
type credentials struct {
	next http.RoundTripper
	sess Session
	open func(path string) bool
}

func (c *credentials) RoundTrip(req *http.Request) (*http.Response, error) {
	if c.open(req.URL.Path) {
		return c.next.RoundTrip(req)
	}
	token, ok := c.sess.Token(req.Context())
	if !ok {
		return c.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	return c.next.RoundTrip(r)
}
