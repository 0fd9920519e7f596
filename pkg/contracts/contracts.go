// Package contracts holds the domain types shared by the governance engine,
// the safety gate, and the execution bridge.
package contracts

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// Address identifies an authenticated caller. The execution environment is
// assumed to authenticate every operation; components only compare addresses.
type Address string

// Zero is the empty address.
const Zero Address = ""

// Hash is an opaque 32-byte identifier of an off-chain action payload.
// The system never inspects its contents; the zero hash is invalid.
type Hash [32]byte

// IsZero reports whether h is the empty/zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// String returns the hex encoding of the hash.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// HashFromHex parses a 64-character hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid content hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid content hash length %d, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// Tier is a risk classification bucket. Tiers are ordered by increasing
// impact; each owns a voting period, pass threshold, and minimum stake.
type Tier uint8

const (
	TierInfo Tier = iota
	TierAction
	TierFunds
	TierCritical

	// TierCount is the number of tiers; useful for iteration.
	TierCount = 4
)

// String implements fmt.Stringer for Tier.
func (t Tier) String() string {
	switch t {
	case TierInfo:
		return "INFO"
	case TierAction:
		return "ACTION"
	case TierFunds:
		return "FUNDS"
	case TierCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Valid reports whether t names a defined tier.
func (t Tier) Valid() bool { return t < TierCount }

// ParseTier converts a tier name to its Tier value.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "INFO":
		return TierInfo, nil
	case "ACTION":
		return TierAction, nil
	case "FUNDS":
		return TierFunds, nil
	case "CRITICAL":
		return TierCritical, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", s)
	}
}

// Clock provides authority time. Components MUST NOT read wall-clock time
// directly; they share one injected clock so cycle math, voting windows, and
// breaker cooldowns all agree on "now".
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// BasisPoints is the denominator for all threshold/percentage arithmetic:
// pass thresholds and vote percentages are expressed in parts-per-10000.
const BasisPoints = 10_000

// DecimalScale is the implicit fixed-point scale of all monetary and stake
// quantities, matching the asset ledger's 18-fractional-digit unit.
const DecimalScale = 18

var unitFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(DecimalScale), nil)

// Units converts a whole-token count into ledger base units (n × 10^18).
func Units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), unitFactor)
}
