package utils

import (
	"net/http"
	"strings"
)

// ExtractBearer returns the access token carried by r.  The Authorization
// header wins whenever it is present: a header that is not a well-formed
// "Bearer <token>" yields no token even if the query has one.  The "token"
// query parameter is read only when the header is absent, for contexts such
// as opening a document in a new browser tab.
func ExtractBearer(r *http.Request) (string, bool) {
	if _, present := r.Header["Authorization"]; present {
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		scheme, tok, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		tok = strings.TrimSpace(tok)
		return tok, tok != ""
	}
	tok := strings.TrimSpace(r.URL.Query().Get("token"))
	return tok, tok != ""
}
