// Package cluster talks to the remote container-execution backend: it
// registers task definition revisions, dispatches runs with at-most-one-run
// semantics, observes run state, and fetches container logs. The ControlPlane
// interface isolates the AWS ECS implementation from the rest of the
// lifecycle.
package cluster
