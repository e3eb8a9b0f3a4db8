package http

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/stay-reservations/internal/domain"
)

// Claims are issued by the identity service. The subject is the user id.
type Claims struct {
	Role  string `json:"role"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

func ParsePublicKey(pemKey string) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, errors.Wrap(err, "parse jwt public key")
	}
	return key, nil
}

type actorKey struct{}

func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok
}

func contextWithActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// JWTMiddleware requires an RS256 bearer token and stores the caller as a
// domain.Actor in the request context.
func JWTMiddleware(key *rsa.PublicKey) func(next http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
				return
			}
			var claims Claims
			if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) { return key, nil }); err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}
			actor, err := actorFromClaims(claims)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
				return
			}
			next.ServeHTTP(w, r.WithContext(contextWithActor(r.Context(), actor)))
		})
	}
}

func actorFromClaims(c Claims) (domain.Actor, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return domain.Actor{}, errors.New("token subject is not a user id")
	}
	role := domain.Role(c.Role)
	switch role {
	case domain.RoleGuest, domain.RoleHost, domain.RoleAdmin:
	case "":
		role = domain.RoleGuest
	default:
		return domain.Actor{}, errors.Newf("unknown role %q", c.Role)
	}
	return domain.Actor{ID: id, Role: role, Name: c.Name, Phone: c.Phone}, nil
}
