package access

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func callWithToken(t *testing.T, middleware func(http.Handler) http.Handler, token string) (*Subject, int) {
	t.Helper()
	var subject *Subject
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = SubjectFromContext(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/subject", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return subject, w.Code
}

func TestJwtMiddleware(t *testing.T) {
	middleware := NewJwtMiddleware(&JwtMiddlewareBuilder{Secret: testSecret})
	subjectID := uuid.New()

	token := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub":   subjectID.String(),
		"roles": []string{"crew"},
	})

	subject, code := callWithToken(t, middleware, token)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, subject)
	assert.Equal(t, subjectID, subject.UUID)
	assert.True(t, subject.HasRole("crew"))

	// second call with the same token is served from the cache
	subject, code = callWithToken(t, middleware, token)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, subject)
	assert.Equal(t, subjectID, subject.UUID)
}

func TestJwtMiddlewareWithoutToken(t *testing.T) {
	middleware := NewJwtMiddleware(&JwtMiddlewareBuilder{Secret: testSecret})

	// no token no auth, the request passes through unauthenticated
	subject, code := callWithToken(t, middleware, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Nil(t, subject)
}

func TestJwtMiddlewareRejectsBadTokens(t *testing.T) {
	middleware := NewJwtMiddleware(&JwtMiddlewareBuilder{Secret: testSecret})
	claims := jwt.MapClaims{"sub": uuid.New().String(), "roles": []string{"crew"}}

	// wrong secret
	_, code := callWithToken(t, middleware,
		signToken(t, jwt.SigningMethodHS256, []byte("other-secret"), claims))
	assert.Equal(t, http.StatusUnauthorized, code)

	// unsigned token, only HMAC is accepted
	_, code = callWithToken(t, middleware,
		signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, claims))
	assert.Equal(t, http.StatusUnauthorized, code)

	// subject claim that is not a uuid
	_, code = callWithToken(t, middleware,
		signToken(t, jwt.SigningMethodHS256, testSecret,
			jwt.MapClaims{"sub": "not-a-uuid", "roles": []string{"crew"}}))
	assert.Equal(t, http.StatusUnauthorized, code)

	// garbage token
	_, code = callWithToken(t, middleware, "garbage")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestJwtMiddlewareIssuerCheck(t *testing.T) {
	middleware := NewJwtMiddleware(&JwtMiddlewareBuilder{Secret: testSecret, Issuer: "pelorus"})

	_, code := callWithToken(t, middleware,
		signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
			"sub": uuid.New().String(),
			"iss": "somebody-else",
		}))
	assert.Equal(t, http.StatusUnauthorized, code)

	subject, code := callWithToken(t, middleware,
		signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
			"sub": uuid.New().String(),
			"iss": "pelorus",
		}))
	assert.Equal(t, http.StatusOK, code)
	assert.NotNil(t, subject)
}
