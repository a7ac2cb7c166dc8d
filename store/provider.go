package store

// DatabaseProvider abstracts the low-level key-value operations so the
// indexer store can work with different backends.
type DatabaseProvider interface {
	// Get retrieves a value by key; nil when the key is absent
	Get(key []byte) ([]byte, error)

	// Put stores a key-value pair
	Put(key, value []byte) error

	// Delete removes a key-value pair
	Delete(key []byte) error

	// Has checks if a key exists
	Has(key []byte) (bool, error)

	// Close closes the database connection
	Close() error

	// Batch returns a new batch for atomic operations
	Batch() DatabaseBatch
}

// DatabaseBatch provides atomic batch operations
type DatabaseBatch interface {
	// Put adds a key-value pair to the batch
	Put(key, value []byte)

	// Delete adds a deletion to the batch
	Delete(key []byte)

	// Write commits all operations in the batch
	Write() error

	// Reset clears the batch
	Reset()
}

// IterableProvider is implemented by providers that can walk a key prefix.
type IterableProvider interface {
	// IteratePrefix calls fn for every key with the given prefix; a false
	// return stops the walk.
	IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error
}
