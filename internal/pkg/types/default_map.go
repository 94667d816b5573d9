package types

// DefaultMap is a map wrapper that lazily creates values for missing keys
// using a user-supplied constructor. It is not safe for concurrent use.
//
//	counts := NewDefaultMap[string](func() uint64 { return 0 })
//	counts.Set("Balances", counts.Get("Balances")+1)
type DefaultMap[K comparable, V any] struct {
	data        map[K]V
	defaultFunc func() V
}

// NewDefaultMap creates an empty DefaultMap backed by defaultFunc.
func NewDefaultMap[K comparable, V any](defaultFunc func() V) DefaultMap[K, V] {
	return DefaultMap[K, V]{
		data:        make(map[K]V),
		defaultFunc: defaultFunc,
	}
}

// Get returns the value stored under key, inserting and returning a default
// value when the key is absent.
func (d *DefaultMap[K, V]) Get(key K) V {
	val, ok := d.data[key]
	if ok {
		return val
	}

	val = d.defaultFunc()
	d.data[key] = val
	return val
}

// Set assigns val to key.
func (d *DefaultMap[K, V]) Set(key K, val V) {
	d.data[key] = val
}

// Len returns the number of keys present.
func (d *DefaultMap[K, V]) Len() int {
	return len(d.data)
}

// Clone returns a copy of the underlying map that callers may mutate freely.
func (d *DefaultMap[K, V]) Clone() map[K]V {
	out := make(map[K]V, len(d.data))
	for k, v := range d.data {
		out[k] = v
	}
	return out
}
