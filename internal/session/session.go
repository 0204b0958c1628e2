// Package session issues and verifies the stateless bearer tokens returned
// by login, registration and recovery. Tokens are ES256-signed JWTs; the
// verification key is published as a JWK set so nothing server-side has to
// be consulted per request.
package session

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/golang-jwt/jwt"
	"github.com/rakutentech/jwk-go/jwk"
	"memberd/internal/model"
)

var ErrorInvalidToken = errors.New("invalid session token")

type Claims struct {
	UID  string     `json:"uid"`
	Role model.Role `json:"role"`
	jwt.StandardClaims
}

type Signer struct {
	privateKey *ecdsa.PrivateKey
	keyID      string
	ttl        time.Duration
}

// New loads the signing key from keyFile, or generates an ephemeral one when
// keyFile is empty (sessions then die with the process).
func New(keyFile string, ttl time.Duration) (*Signer, error) {
	var privateKey *ecdsa.PrivateKey
	var err error

	if keyFile == "" {
		privateKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generating session key: %w", err)
		}
	} else {
		privateKey, err = loadKey(keyFile)
		if err != nil {
			return nil, fmt.Errorf("loading session key: %w", err)
		}
	}

	return &Signer{
		privateKey: privateKey,
		keyID:      keyIDFromPublicKey(&privateKey.PublicKey),
		ttl:        ttl,
	}, nil
}

func (s *Signer) Sign(uid string, role model.Role) (string, error) {
	now := time.Now()
	claims := &Claims{
		UID:  uid,
		Role: role,
		StandardClaims: jwt.StandardClaims{
			Id:        model.CreateID(),
			Subject:   uid,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.ttl).Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

func (s *Signer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return &s.privateKey.PublicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrorInvalidToken
	}
	return claims, nil
}

// JWKS renders the verification key as a JWK set.
func (s *Signer) JWKS() ([]byte, error) {
	keySpec := jwk.NewSpec(&s.privateKey.PublicKey)
	rawJWK, err := keySpec.ToJWK()
	if err != nil {
		return nil, fmt.Errorf("creating JWK: %w", err)
	}

	rawJWK.Use = "sig"
	rawJWK.Alg = "ES256"
	rawJWK.Kid = s.keyID

	keyData, err := rawJWK.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshalling JWK: %w", err)
	}

	set, err := json.Marshal(map[string][]json.RawMessage{
		"keys": {keyData},
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling JWK set: %w", err)
	}
	return set, nil
}

func loadKey(keyFile string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", keyFile)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing EC key: %w", err)
	}
	return key, nil
}

func keyIDFromPublicKey(publicKey *ecdsa.PublicKey) string {
	shaHash := sha256.New()
	shaHash.Write(publicKey.X.Bytes())
	shaHash.Write(publicKey.Y.Bytes())
	rawID := shaHash.Sum(nil)
	return base58.Encode(rawID[:])
}
