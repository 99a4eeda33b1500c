package backing

import "context"

// EmptyStore is the "null" backing store: it has no content at all. It is
// used as a placeholder when a mount has no real repository attached.
type EmptyStore struct{}

// NewEmptyStore creates an empty backing store.
func NewEmptyStore() *EmptyStore {
	return &EmptyStore{}
}

func (s *EmptyStore) Type() string   { return "null" }
func (s *EmptyStore) Source() string { return "" }

func (s *EmptyStore) Get(ctx context.Context, id ObjectID) ([]byte, error) {
	return nil, ErrObjectNotFound
}
