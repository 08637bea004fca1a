package cli

import "errors"

var (
	errConfigInvalid      = errors.New("invalid config file")
	errConfigFileNotFound = errors.New("config file not found")
	errCacheDirEmpty      = errors.New("cache_dir must not be empty")
	errTTLInvalid         = errors.New("ttl_ms must be a positive integer")
	errURLRequired        = errors.New("a url argument is required")
	errConfirmRequired    = errors.New("confirmation required to run a newly downloaded artifact: re-run with --yes")
	errRunDeclined        = errors.New("run declined")
)
