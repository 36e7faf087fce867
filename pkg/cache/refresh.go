package cache

import "context"

// ForceRefresh wraps s so every read misses while writes still land.
// It is used to regenerate outputs and overwrite what the store holds.
func ForceRefresh(s Store) Store {
	if s == nil {
		return nil
	}
	if fr, ok := s.(forceRefresh); ok {
		return fr
	}
	return forceRefresh{Store: s}
}

type forceRefresh struct {
	Store
}

func (f forceRefresh) Get(context.Context, Key) (*Entry, error) {
	return nil, nil
}

// Unwrap returns the wrapped store.
func (f forceRefresh) Unwrap() Store { return f.Store }
