// Package engine orchestrates the task offload lifecycle. It drives each
// invocation through a strictly sequential pipeline (package the artifact,
// publish the image, register a definition revision, dispatch the run, poll
// to a terminal state, retrieve the outcome) while independent invocations
// proceed concurrently, and journals every lifecycle transition for
// inspection.
package engine
