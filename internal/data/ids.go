// Package data provides DB models and stores.
package data

import (
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	// ErrInvalidID is returned by writes addressed with a malformed id.
	ErrInvalidID = errors.New("invalid id")
	// ErrInvalidCursor is returned when a pagination cursor is not an id.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrNotFound is returned by writes addressed at a missing document.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a uniqueness conflict cannot be resolved
	// by re-reading the conflicting document.
	ErrDuplicate = errors.New("duplicate key without matching document")
)

func parseID(s string) (bson.ObjectID, bool) {
	id, err := bson.ObjectIDFromHex(s)
	if err != nil {
		return bson.ObjectID{}, false
	}
	return id, true
}
