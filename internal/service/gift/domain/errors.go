// internal/service/gift/domain/errors.go
package domain

import "errors"

var (
	ErrQuotaNotFound = errors.New("quota record not found")
	ErrEmptyPhone    = errors.New("phone number is empty")
)
