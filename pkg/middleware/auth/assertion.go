package auth

import (
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// resolveCaller reads the domain claim from raw. Signatures are verified only
// when an assertion key URL is configured; otherwise the token is trusted as
// already validated upstream.
func (m *Middleware) resolveCaller(raw string) (Caller, error) {
	claims := jwt.MapClaims{}
	verified := false

	if m.keyURL != "" {
		pub := m.getKey()
		if pub == nil {
			return Caller{}, errors.New("assertion key not loaded")
		}
		parser := jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(m.leeway),
		)
		tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return pub, nil
		})
		if err != nil || !tok.Valid {
			return Caller{}, fmt.Errorf("invalid assertion: %w", err)
		}
		if m.issuer != "" {
			if iss, _ := claims.GetIssuer(); iss != m.issuer {
				return Caller{}, errors.New("bad issuer")
			}
		}
		if m.audience != "" {
			aud, _ := claims.GetAudience()
			if !slices.Contains(aud, m.audience) {
				return Caller{}, errors.New("bad audience")
			}
		}
		verified = true
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return Caller{}, fmt.Errorf("malformed token: %w", err)
		}
	}

	domain, _ := claims[m.domainClaim].(string)
	if domain == "" {
		return Caller{}, fmt.Errorf("token has no %q claim", m.domainClaim)
	}
	sub, _ := claims.GetSubject()
	uid, _ := claims["uid"].(string)
	cid, _ := claims["clientId"].(string)

	return Caller{
		Domain:   domain,
		Subject:  first(uid, sub, cid),
		Token:    raw,
		Verified: verified,
	}, nil
}
