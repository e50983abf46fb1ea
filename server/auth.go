package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ClientJwt is the identity carried by a client token.
type ClientJwt struct {
	ClientName string
	ExpiresAt  time.Time
}

// Authenticator verifies hs256 client tokens presented in the websocket handshake.
// A nil authenticator admits every client.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{
		secret: []byte(secret),
	}
}

// SignClientJwt mints a token for `clientName`. A zero `validFor` does not expire.
func SignClientJwt(secret string, clientName string, validFor time.Duration) (string, error) {
	claims := gojwt.MapClaims{
		"client_name": clientName,
		"iat":         time.Now().Unix(),
	}
	if 0 < validFor {
		claims["exp"] = time.Now().Add(validFor).Unix()
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func (self *Authenticator) ParseClientJwt(jwt string) (*ClientJwt, error) {
	parser := gojwt.NewParser(gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}))
	token, err := parser.Parse(jwt, func(token *gojwt.Token) (any, error) {
		return self.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, err)
	}

	claims := token.Claims.(gojwt.MapClaims)

	clientJwt := &ClientJwt{}
	if clientName, ok := claims["client_name"].(string); ok {
		clientJwt.ClientName = clientName
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		clientJwt.ExpiresAt = exp.Time
	}
	return clientJwt, nil
}

// Authenticate reads the token from `?token=` or an `Authorization: Bearer` header.
func (self *Authenticator) Authenticate(r *http.Request) (*ClientJwt, error) {
	if self == nil {
		return &ClientJwt{}, nil
	}
	jwt := r.URL.Query().Get("token")
	if jwt == "" {
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			jwt = strings.TrimSpace(bearer)
		}
	}
	if jwt == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	return self.ParseClientJwt(jwt)
}
