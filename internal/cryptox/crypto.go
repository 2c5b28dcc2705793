// Package cryptox derives the offline login verifier kept by the client:
// an argon2id key of the password, hashed once more with SHA-256, so the
// cache never holds anything that unlocks the account remotely.
package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"

	"github.com/creat233/finderid/internal/common"
)

const saltSize = 32

func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// Credential is what the client stores to check a password offline.
type Credential struct {
	Salt     []byte
	Verifier []byte
}

// NewCredential derives a credential for password with a fresh salt.
func NewCredential(password []byte) Credential {
	salt := common.GenerateRandByteArray(saltSize)
	key := DeriveMasterKey(password, salt)
	defer common.WipeByteArray(key)
	return Credential{Salt: salt, Verifier: MakeVerifier(key)}
}

// Verify reports whether password matches c, in constant time.
func (c Credential) Verify(password []byte) bool {
	if len(c.Salt) == 0 || len(c.Verifier) == 0 {
		return false
	}
	key := DeriveMasterKey(password, c.Salt)
	defer common.WipeByteArray(key)
	return subtle.ConstantTimeCompare(MakeVerifier(key), c.Verifier) == 1
}
