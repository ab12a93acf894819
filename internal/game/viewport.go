package game

// Viewport decides which other players an observer is told about. Local players are
// synchronised in high resolution, external ones only at mapsquare granularity.
type Viewport interface {
	// ForEachLocal calls fn for every local id, the observer's own id included.
	ForEachLocal(observer int, fn func(id int))
	// ForEachExternal calls fn for every id that is not local to the observer.
	ForEachExternal(observer int, fn func(id int))
}

// fullTableViewport treats every other id the client can address as external and
// never reports any of them as changed, so each observer only ever sees itself.
type fullTableViewport struct{}

func (v fullTableViewport) ForEachLocal(observer int, fn func(id int)) {
	fn(observer)
}

func (v fullTableViewport) ForEachExternal(observer int, fn func(id int)) {
	for id := 1; id <= MaxPlayers; id++ {
		if id != observer {
			fn(id)
		}
	}
}
