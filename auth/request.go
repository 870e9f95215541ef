package auth

import (
	"net/http"

	"github.com/drawbook/go-datastore/core"
)

// httpRequest adapts a net/http request plus a per-request ambient header
// mapping to the credential-reading surface the authorizer consumes.
type httpRequest struct {
	r       *http.Request
	ambient map[string]string
}

// FromHTTP wraps an HTTP request. The ambient mapping carries headers
// propagated between internal calls and may be nil.
func FromHTTP(r *http.Request, ambient map[string]string) core.Request {
	return &httpRequest{r: r, ambient: ambient}
}

func (h *httpRequest) Header(name string) string {
	if h == nil || h.r == nil {
		return ""
	}
	return h.r.Header.Get(name)
}

func (h *httpRequest) Query(name string) string {
	if h == nil || h.r == nil {
		return ""
	}
	return h.r.URL.Query().Get(name)
}

func (h *httpRequest) AmbientHeader(name string) string {
	if h == nil || h.ambient == nil {
		return ""
	}
	return h.ambient[http.CanonicalHeaderKey(name)]
}

// ForwardAccessToken stores the bearer credential in an ambient mapping so a
// downstream internal call can present it again.
func ForwardAccessToken(ambient map[string]string, accessToken string) {
	if ambient == nil || accessToken == "" {
		return
	}
	ambient[http.CanonicalHeaderKey(HeaderAuthorization)] = bearerScheme + " " + accessToken
}
