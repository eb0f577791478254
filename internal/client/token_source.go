package client

import (
	"golang.org/x/oauth2"
)

type storeTokenSource struct {
	tokens TokenStore
}

// TokenSource exposes the session as an oauth2.TokenSource, so libraries that
// accept one (oauth2.NewClient, grpc oauth credentials) send the same bearer
// token this client does. Expiry is filled from the exp claim of JWT access
// tokens and left zero for opaque ones.
func (c *Client) TokenSource() oauth2.TokenSource {
	return storeTokenSource{tokens: c.tokens}
}

func (s storeTokenSource) Token() (*oauth2.Token, error) {
	access := s.tokens.GetToken()
	if access == "" {
		return nil, &Error{Type: ErrorTypeAuthentication, Message: "no access token available"}
	}

	tok := &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: s.tokens.GetRefreshToken(),
	}
	if claims, err := ParseClaims(access); err == nil {
		tok.Expiry = claims.ExpiresAt
	}
	return tok, nil
}
