package errors

// Error codes, grouped by failure surface. The numeric bands mirror the
// log-triage convention: 1xx configuration, 2xx local I/O, 3xx external
// services, 5xx internal invariants.
const (
	// ErrCodeConfigInvalid is a rejected configuration value.
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"

	// ErrCodeFileNotFound is a missing file or directory.
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"

	// ErrCodeFilePermission is a filesystem permission or lock failure.
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"

	// ErrCodeFileCorrupt is an unreadable or malformed persisted file
	// (snapshot meta, shard, checkpoint).
	ErrCodeFileCorrupt = "ERR_203_FILE_CORRUPT"

	// ErrCodeCorruptIndex is a checksum or consistency failure in an
	// index structure.
	ErrCodeCorruptIndex = "ERR_204_CORRUPT_INDEX"

	// ErrCodeNetwork is a transport-level failure talking to an external
	// service.
	ErrCodeNetwork = "ERR_301_NETWORK"

	// ErrCodeEmbedding is an embedding provider rejecting a request.
	ErrCodeEmbedding = "ERR_302_EMBEDDING"

	// ErrCodeGitUnavailable means the codebase is not a git repository or
	// git history cannot be read; enrichment is skipped.
	ErrCodeGitUnavailable = "ERR_303_GIT_UNAVAILABLE"

	// ErrCodeInternal is a bug: an invariant the engine relies on did not
	// hold.
	ErrCodeInternal = "ERR_501_INTERNAL"
)
