package chat

import "errors"

var (
	ErrNoConversation  = errors.New("no active conversation")
	ErrNoSelection     = errors.New("no provider or model selected")
	ErrInvalidSettings = errors.New("invalid settings")
	ErrBusy            = errors.New("a reply or conversation load is in progress")
	ErrEmptyInput      = errors.New("empty input")
)
