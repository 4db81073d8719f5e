package dsconv

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the conversion pipeline.
var (
	ErrUnsupported        = errors.New("operation not supported by this format")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrDocumentType       = errors.New("document belongs to a different format")
	ErrUnknownFormat      = errors.New("unknown dataset format")
)

// InvalidSourceError reports a source that is neither a directory, a zip file, an open zip
// archive nor a seekable zip byte stream.
type InvalidSourceError struct {
	Source string // A description of the rejected source.
	Err    error  // The underlying cause, if any.
}

func (e *InvalidSourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid source %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("invalid source %s: must be a directory, a zip file, an open zip archive"+
		" or a zip byte stream", e.Source)
}

func (e *InvalidSourceError) Unwrap() error { return e.Err }

// SchemaError reports a document that does not conform to one of the dataset schemas.
type SchemaError struct {
	Schema SchemaName
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("document does not conform to the %s schema: %v", e.Schema, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// IsSchemaError reports whether err is (or wraps) a *SchemaError.
func IsSchemaError(err error) bool {
	var s *SchemaError
	return errors.As(err, &s)
}
