package schemas

import "errors"

// Sentinel errors shared by loaders, matchers and the evaluator. Callers wrap
// them with context; classification happens through errors.Is.
var (
	// ErrTraceNotFound marks a missing trace directory or an empty trace.
	ErrTraceNotFound = errors.New("trace not found")
	// ErrCorruptFixture marks an annotation, action or activity artifact that
	// could not be parsed, or a checkpoint that does not resolve.
	ErrCorruptFixture = errors.New("corrupt fixture")
	// ErrHierarchyUnavailable marks a view hierarchy that is missing or could
	// not be parsed into UI positions.
	ErrHierarchyUnavailable = errors.New("view hierarchy unavailable")
	// ErrEpisodeNotFound marks an episode id absent from the metadata repository.
	ErrEpisodeNotFound = errors.New("episode not found")
)
