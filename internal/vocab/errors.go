package vocab

import "errors"

var (
	ErrUnknownKey      = errors.New("unknown key")
	ErrWordNotFound    = errors.New("word not found")
	ErrInvalidSortType = errors.New("invalid sort type")
)
