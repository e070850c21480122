package store

import "errors"

var (
	ErrFamilyNotFound = errors.New("cfstore: column family not found")
	ErrClosed         = errors.New("cfstore: store closed")
)
