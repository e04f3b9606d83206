package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Credential generation. Names are deterministic-looking but unique enough
// to avoid a central registry: collisions are ultimately rejected by the
// unique constraint on non-deleted instance names.

const (
	usernamePrefix    = "u_"
	passwordLength    = 16
	passwordAlphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#$%&*+-=?@^_"
	ownerFragmentSize = 8
)

// GenerateDatabaseName derives a database name from the engine, the owner
// and the current minute: <engine>_<owner fragment>_<yyyymmddhhmm>.
func GenerateDatabaseName(engine EngineType, ownerID uuid.UUID) string {
	fragment := strings.ReplaceAll(ownerID.String(), "-", "")
	if len(fragment) > ownerFragmentSize {
		fragment = fragment[:ownerFragmentSize]
	}
	stamp := time.Now().UTC().Format("200601021504")
	return fmt.Sprintf("%s_%s_%s", strings.ToLower(string(engine)), fragment, stamp)
}

// GenerateUsername derives the database user 1:1 from the database name.
// The prefix keeps generated users from ever colliding with superuser names.
func GenerateUsername(databaseName string) string {
	name := usernamePrefix + databaseName
	if len(name) > 32 {
		name = name[:32]
	}
	return name
}

// GenerateRotatedUsername derives a replacement user for credential
// rotation. The second-resolution suffix keeps it distinct from the user
// it replaces while staying within the 32-character limit.
func GenerateRotatedUsername(databaseName string) string {
	base := databaseName
	if len(base) > 19 {
		base = base[:19]
	}
	return fmt.Sprintf("%s%s_%s", usernamePrefix, base, time.Now().UTC().Format("0102150405"))
}

// GeneratePassword returns a 16-character password drawn from a fixed
// alphabet using crypto/rand. Never a general-purpose PRNG.
func GeneratePassword() (string, error) {
	var b strings.Builder
	b.Grow(passwordLength)
	alphabetLen := big.NewInt(int64(len(passwordAlphabet)))
	for i := 0; i < passwordLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("reading random source: %w", err)
		}
		b.WriteByte(passwordAlphabet[n.Int64()])
	}
	return b.String(), nil
}
