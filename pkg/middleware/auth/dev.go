package auth

import "net/http"

// Dev-only caller injection via headers when auth.dev_bypass is set
func devCallerFromHeaders(r *http.Request) Caller {
	domain := r.Header.Get("X-Dev-Domain")
	if domain == "" {
		return Caller{}
	}
	return Caller{
		Domain:  domain,
		Subject: r.Header.Get("X-Dev-User"),
		Token:   bearer(r),
	}
}
