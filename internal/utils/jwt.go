package utils // utils holds helpers shared by the CLI and the handler tests

import (
    "time"

    "github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed JWT together with its expiry.
type AccessToken struct {
    Token string
    Exp   time.Time
}

// NewAccessToken signs an HS256 token carrying sub, role and, for a
// steward scoped to one hub, hub_id.  Tokens are normally minted by the
// identity service; this helper serves development and tests.
func NewAccessToken(secret string, userID uint64, role string, hubID *uint64, ttl time.Duration) (AccessToken, error) {
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := jwt.MapClaims{
        "sub":  userID,
        "role": role,
        "exp":  exp.Unix(),
        "iat":  now.Unix(),
    }
    if hubID != nil {
        claims["hub_id"] = *hubID
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}
