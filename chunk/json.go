package chunk

import (
	"encoding/json"
	"errors"

	"github.com/ndlib/paperstore/store"
)

// A JSONStore wraps a Store and provides a store which serializes its items as
// JSON instead of using streams. It does not cache the results of
// serialization/deserialization.
type JSONStore struct {
	store.Store
}

// NewJSON creates a new JSONStore using the provided store for its storage.
func NewJSON(s store.Store) JSONStore {
	return JSONStore{s}
}

// Open the item having the given key and unserialize it into value.
func (js JSONStore) Open(key string, value interface{}) error {
	data, err := store.ReadAll(js.Store, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, value)
}

// Save the value under the given key, replacing any existing value.
// Items in a store are immutable, so the old item is deleted first.
func (js JSONStore) Save(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	err = js.Delete(key)
	if err != nil {
		return err
	}
	err = store.WriteAll(js.Store, key, data)
	if errors.Is(err, store.ErrKeyExists) {
		// lost a race with another save of the same key; try once more
		js.Delete(key)
		err = store.WriteAll(js.Store, key, data)
	}
	return err
}
