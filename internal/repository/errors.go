package repository

import (
	"errors"

	"gorm.io/gorm"
)

// ErrDuplicateKey reports a unique constraint violation. For retry tasks it
// means a RUNNING task with the same idempotent id already exists.
var ErrDuplicateKey = errors.New("duplicate key")

// translate maps driver errors onto repository sentinels. The gorm session must
// be opened with TranslateError so the mysql dialector reports
// gorm.ErrDuplicatedKey.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	return err
}
