package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// RSA256PkeyAsJwkMessage generates a fresh RSA signing key serialized as a
// JWK message, the same format TOKEN_PRIVATE_KEY is expected in.
func RSA256PkeyAsJwkMessage() ([]byte, error) {
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("unable generate rsa private key. Error: %s", err)
	}

	key, err := jwk.FromRaw(pk)
	if err != nil {
		return nil, fmt.Errorf("unable cast private key to jwk key. Error: %s", err)
	}

	jsonBytes, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("unable serialize jwk key as json message. Error: %s", err)
	}

	return jsonBytes, nil
}
