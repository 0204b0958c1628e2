package session

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"memberd/internal/model"
)

func TestSignVerify(t *testing.T) {
	assert := assert.New(t)

	signer, err := New("", time.Hour)
	assert.Nil(err)

	t.Run("round trip", func(t *testing.T) {
		token, err := signer.Sign("Uaaaab", model.RoleUser)
		assert.Nil(err)

		claims, err := signer.Verify(token)
		assert.Nil(err)
		assert.Equal("Uaaaab", claims.UID)
		assert.Equal(model.RoleUser, claims.Role)
		assert.NotEmpty(claims.Id)
	})

	t.Run("tampered tokens are rejected", func(t *testing.T) {
		token, err := signer.Sign("Uaaaab", model.RoleUser)
		assert.Nil(err)

		parts := strings.Split(token, ".")
		mangled := parts[0] + "." + parts[1] + "." + parts[2][1:]
		_, err = signer.Verify(mangled)
		assert.ErrorIs(err, ErrorInvalidToken)
	})

	t.Run("tokens from another signer are rejected", func(t *testing.T) {
		other, err := New("", time.Hour)
		assert.Nil(err)
		token, err := other.Sign("Uaaaab", model.RoleUser)
		assert.Nil(err)

		_, err = signer.Verify(token)
		assert.ErrorIs(err, ErrorInvalidToken)
	})

	t.Run("expired tokens are rejected", func(t *testing.T) {
		shortLived, err := New("", -time.Minute)
		assert.Nil(err)
		token, err := shortLived.Sign("Uaaaab", model.RoleUser)
		assert.Nil(err)

		_, err = shortLived.Verify(token)
		assert.ErrorIs(err, ErrorInvalidToken)
	})
}

func TestJWKS(t *testing.T) {
	assert := assert.New(t)

	signer, err := New("", time.Hour)
	assert.Nil(err)

	data, err := signer.JWKS()
	assert.Nil(err)

	var set struct {
		Keys []map[string]any `json:"keys"`
	}
	assert.Nil(json.Unmarshal(data, &set))
	assert.Len(set.Keys, 1)
	assert.Equal("EC", set.Keys[0]["kty"])
	assert.Equal("ES256", set.Keys[0]["alg"])
	assert.NotEmpty(set.Keys[0]["kid"])
}
