package access

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	cache "github.com/patrickmn/go-cache"
	"github.com/seastead-tech/pelorus/core/logger"
)

// JwtMiddlewareBuilder is a helper builder for the JWT middleware
type JwtMiddlewareBuilder struct {
	// Secret is the HMAC secret the tokens are signed with. This is mandatory.
	Secret []byte
	// Issuer is the accepted issuer for the token. This is optional.
	Issuer string
}

type subjectClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewJwtMiddleware returns a middleware handler that validates a JWT
// bearer token and puts the authenticated subject into the request
// context.
//
// Tokens are accepted as "Authorization: Bearer" header or as
// "Pelorus-JWT" cookie. The token's "sub" claim carries the subject's
// uuid, the "roles" claim its roles.
//
// Requests without a token pass through unauthenticated; requests with an
// invalid token are rejected with http.StatusUnauthorized. Verified
// subjects are cached per token with a short TTL to avoid re-parsing on
// every request.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if len(jmb.Secret) == 0 {
		panic("jwt middleware needs a secret")
	}

	keyLookup := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jmb.Secret, nil
	}

	subjectCache := cache.New(5*time.Minute, 10*time.Minute)

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if SubjectFromContext(r.Context()) != nil { // already authenticated?
				h.ServeHTTP(w, r)
				return
			}

			rlog := logger.FromContext(r.Context())

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 && bearer != "null" {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				} else {
					tokenString = bearer
				}
			} else if cookie, _ := r.Cookie("Pelorus-JWT"); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			if cached, ok := subjectCache.Get(tokenString); ok {
				subject := cached.(*Subject)
				ctx := subject.ContextWithSubject(r.Context())
				ctx, _ = logger.ContextWithLoggerIdentity(ctx, subject.UUID.String())
				h.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			claims := subjectClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, keyLookup)
			if err != nil || !token.Valid ||
				(jmb.Issuer != "" && claims.Issuer != jmb.Issuer) {
				rlog.WithError(err).Warningln("rejecting invalid token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			subjectID, err := uuid.Parse(claims.Subject)
			if err != nil {
				rlog.WithError(err).Warningln("token subject is not a uuid")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			subject := &Subject{UUID: subjectID, Roles: claims.Roles}
			subjectCache.Set(tokenString, subject, cache.DefaultExpiration)

			ctx := subject.ContextWithSubject(r.Context())
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, subject.UUID.String())
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
