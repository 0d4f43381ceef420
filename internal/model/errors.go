package model

import "errors"

var (
	// ErrNotFound is returned by stores when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidAnswerPayload is returned when an answer does not match the
	// shape required by its question type.
	ErrInvalidAnswerPayload = errors.New("answer payload does not match question type")
)
