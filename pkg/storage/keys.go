package storage

import "fmt"

// Key schema for the engine-state store. Every key is scoped by symbol
// except the registry singleton, since §6's persisted-state layout is
// itself per-market (tick store, funding tracker, open positions) plus
// one process-wide list of market configs:
//
//	mkt:               → []*market.Config, the full registry
//	book:<symbol>      → book.Snapshot
//	fund:<symbol>      → funding.Snapshot
//	pos:<symbol>       → map[string]*position.Position
const (
	marketsKey    = "mkt:"
	prefixBook    = "book:"
	prefixFunding = "fund:"
	prefixPos     = "pos:"
)

func bookKey(symbol string) []byte    { return []byte(fmt.Sprintf("%s%s", prefixBook, symbol)) }
func fundingKey(symbol string) []byte { return []byte(fmt.Sprintf("%s%s", prefixFunding, symbol)) }
func positionsKey(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixPos, symbol))
}
