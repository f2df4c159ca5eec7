package service

import "errors"

var (
	ErrNotFound   = errors.New("error not found")
	ErrValidation = errors.New("error validation")
	ErrConflict   = errors.New("error conflict")
)
