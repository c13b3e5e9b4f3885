package lakehouse

import "github.com/pkg/errors"

var (
	// ErrMissingInput is returned when a raw landing file, or the manifest
	// marking a landed batch as complete, is absent or incomplete.
	ErrMissingInput = errors.New("missing input")

	// ErrSchemaMismatch is returned when a dataset's required fields cannot
	// be satisfied by the columns present in the raw data.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrSecretResolution is returned when storage credentials cannot be
	// resolved from the configured secret store.
	ErrSecretResolution = errors.New("secret resolution failed")
)
