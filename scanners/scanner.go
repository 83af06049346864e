package scanners

import (
	"context"

	"github.com/opencause/escrow/models"
)

// Outcome classifies a single scan pass over one network.
type Outcome string

const (
	// OutcomeMatch indicates an exact transfer was found
	OutcomeMatch Outcome = "MATCH"

	// OutcomeNoMatch indicates the window was scanned and nothing matched
	OutcomeNoMatch Outcome = "NO_MATCH"

	// OutcomeUnreachable indicates the network could not be queried; nothing
	// can be said about the window
	OutcomeUnreachable Outcome = "UNREACHABLE"
)

// Target describes the transfer a scan is looking for.
type Target struct {
	DepositAddress string

	// ExpectedAmountRaw is an exact integer in the asset's smallest unit.
	ExpectedAmountRaw string

	// TokenAddress is empty when the native asset is expected.
	TokenAddress string

	// NativeFallback enables matching a native transfer of the expected raw
	// amount when a token was expected.
	NativeFallback bool
}

// Match is a detected transfer.
type Match struct {
	TxHash       string
	FromAddress  string
	AmountRaw    string
	AssetType    models.AssetType
	TokenAddress string
	BlockNumber  uint64
}

// Result is the output of one scan pass.
type Result struct {
	Outcome Outcome
	Match   *Match

	// NextCursor is the end of the window this pass attempted. The caller
	// persists it regardless of outcome: a window that failed mid-scan is
	// never re-queried, a lost detection opportunity rather than a retry
	// target. Only when the tip itself could not be read does NextCursor
	// equal the input cursor, since no window was ever computed.
	NextCursor uint64
}

// Scanner scans one network for an exact-amount transfer to a deposit
// address. Implementations never return an error: an RPC failure is an
// OutcomeUnreachable result, which keeps a single flaky network from failing
// a whole multi-network pass.
type Scanner interface {
	NetworkID() string
	Scan(ctx context.Context, target Target, cursor uint64) Result

	// TipHeight reports the current chain height, used for confirmation depth.
	TipHeight(ctx context.Context) (uint64, error)
}

func unreachable(attempted uint64) Result {
	return Result{Outcome: OutcomeUnreachable, NextCursor: attempted}
}

func noMatch(scanned uint64) Result {
	return Result{Outcome: OutcomeNoMatch, NextCursor: scanned}
}

func matched(m *Match, scanned uint64) Result {
	return Result{Outcome: OutcomeMatch, Match: m, NextCursor: scanned}
}
