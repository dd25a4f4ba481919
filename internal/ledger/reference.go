package ledger

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// referenceAlphabet omits the look-alikes 0/O and 1/I
const referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const referenceSuffixLen = 6

var alphabetSize = big.NewInt(int64(len(referenceAlphabet)))

// GenerateReference builds a human-readable reference: TXN-YYYYMMDD-CODE-XXXXXX.
// References are unique in storage; a collision surfaces as ErrReferenceCollision.
func GenerateReference(t TransactionType, at time.Time) (string, error) {
	code := t.Code()
	if code == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, t)
	}

	suffix := make([]byte, referenceSuffixLen)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to read random: %w", err)
		}
		suffix[i] = referenceAlphabet[n.Int64()]
	}

	return fmt.Sprintf("TXN-%s-%s-%s", at.UTC().Format("20060102"), code, suffix), nil
}

// GenerateIdempotencyKey returns a fresh random (v4) UUID string
func GenerateIdempotencyKey() string {
	return uuid.NewString()
}

// reversalKey is the idempotency key of the compensation for a transaction.
// It makes a second compensation attempt for the same original impossible.
func reversalKey(originalID uuid.UUID) string {
	return "reversal:" + originalID.String()
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newEntryID returns a ULID so entries sort by creation even within one millisecond
func newEntryID(at time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy)
}
