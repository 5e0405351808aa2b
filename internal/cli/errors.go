package cli

import "errors"

// Error variables for CLI operations.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrUnknownCommand     = errors.New("unknown command")
	ErrPathRequired       = errors.New("collection path is required")
	ErrKindRequired       = errors.New("collection kind is required (list|set|map|queue|stack)")
	ErrInvalidSize        = errors.New("invalid size")
	ErrInvalidTTL         = errors.New("invalid ttl (use a duration like 30s, or never)")
	ErrCheckFailed        = errors.New("check failed")
)
