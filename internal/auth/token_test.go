package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_IssueAndValidate(t *testing.T) {
	for _, alg := range []string{"HS256", "hs384", "HS512"} {
		t.Run(alg, func(t *testing.T) {
			a := New("s3cret", alg)
			tok, err := a.Issue("ops", []string{"bots"}, time.Minute)
			require.NoError(t, err)

			claims, err := a.Validate(tok)
			require.NoError(t, err)
			assert.Equal(t, "ops", claims.Subject)
			assert.Equal(t, []string{"bots"}, claims.Scopes)
			assert.Equal(t, Issuer, claims.Issuer)
		})
	}
}

func TestAuthenticator_Rejects(t *testing.T) {
	a := New("s3cret", "HS256")

	_, err := a.Validate("")
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = a.Validate("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)

	other, err := New("different", "HS256").Issue("ops", nil, time.Minute)
	require.NoError(t, err)
	_, err = a.Validate(other)
	require.ErrorIs(t, err, ErrInvalidToken)

	// 算法不一致
	hs512, err := New("s3cret", "HS512").Issue("ops", nil, time.Minute)
	require.NoError(t, err)
	_, err = a.Validate(hs512)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	s, err := expired.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = a.Validate(s)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticator_DisabledAcceptsAnything(t *testing.T) {
	a := New("", "")
	assert.False(t, a.Enabled())
	_, err := a.Validate("")
	require.NoError(t, err)
	_, err = a.Issue("ops", nil, 0)
	require.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	_, err = BearerToken("")
	require.ErrorIs(t, err, ErrMissingToken)
	_, err = BearerToken("Basic abc")
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = BearerToken("Bearer ")
	require.ErrorIs(t, err, ErrInvalidToken)
}
