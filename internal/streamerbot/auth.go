package streamerbot

import (
	"crypto/sha256"
	"encoding/base64"
)

// authResponse computes the Authenticate value for a Hello challenge:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func authResponse(password string, auth *Authentication) string {
	secret := sha256.Sum256([]byte(password + auth.Salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	sum := sha256.Sum256([]byte(secretB64 + auth.Challenge))
	return base64.StdEncoding.EncodeToString(sum[:])
}
