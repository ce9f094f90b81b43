package position

// Snapshot returns a shallow copy of every open position, keyed by
// account, for persisting the account -> Position collection (§6
// "Persisted state layout"). Positions are replaced wholesale on Restore,
// so a shallow copy is sufficient: nothing outside this package mutates a
// *Position after Open/Close return it.
func (e *Engine) Snapshot() map[string]*Position {
	out := make(map[string]*Position, len(e.positions))
	for account, pos := range e.positions {
		out[account] = pos
	}
	return out
}

// Restore replaces e's open-positions map with snap's.
func (e *Engine) Restore(snap map[string]*Position) {
	e.positions = make(map[string]*Position, len(snap))
	for account, pos := range snap {
		e.positions[account] = pos
	}
}
