package cobs

import "errors"

// Sentinel errors grouped by the design-level error kinds of the system:
// InputMalformed, IoFailure, ConfigurationInvalid, CapacityExceeded, and
// IntegrityFailure. Call sites wrap these with fmt.Errorf("...: %w", err)
// to attach context; errors.Is against the sentinel recovers the kind.
var (
	// ErrInputMalformed is returned when a document cannot be parsed into
	// k-mers, when a multi-record file's records cannot be counted during a
	// scan, and when a build finds no documents. It ends the operation that
	// met it: the document is not skipped and the rest of its batch is not
	// built.
	ErrInputMalformed = errors.New("cobs: input document malformed")

	// ErrIoFailure covers short reads/writes, permission errors, and disk
	// full conditions. Fatal to the current top-level operation.
	ErrIoFailure = errors.New("cobs: i/o failure")

	// ErrConfigurationInvalid is returned by Validate() methods when a
	// build or query configuration violates a stated invariant.
	ErrConfigurationInvalid = errors.New("cobs: configuration invalid")

	// ErrCapacityExceeded describes a probe batch larger than the
	// async-direct backend's request ring. Probe does not return it: the
	// backend passes it to its ProgressSink's OnWarning and reads the
	// overflow synchronously.
	ErrCapacityExceeded = errors.New("cobs: capacity exceeded")

	// ErrIntegrityFailure covers header magic/version mismatches and
	// truncated index files. Fatal.
	ErrIntegrityFailure = errors.New("cobs: integrity failure")
)
