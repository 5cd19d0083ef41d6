// Package pack builds the transportable artifact for one invocation: the
// serialized payload plus a generated entrypoint script and image build
// recipe, bundled into a registry-buildable context.
package pack

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/halverson/offload/internal/task"
)

// workDir is the working directory inside the task container.
const workDir = "/opt/offload"

// BuildContext is the packaged artifact for one invocation. Derived
// deterministically from the invocation; transient, discarded once the image
// has been published.
type BuildContext struct {
	InvocationID string
	Tag          string

	// Payload is the serialized callable + arguments, uploaded to the result
	// store under PayloadKey before dispatch.
	Payload    []byte
	PayloadKey string
	ResultKey  string

	// Entrypoint and Dockerfile are the generated build inputs.
	Entrypoint []byte
	Dockerfile []byte
}

// Packager generates build contexts for invocations.
type Packager struct {
	bucket    string
	baseImage string
}

// NewPackager creates a packager targeting the given result-store bucket and
// base image. The base image must carry the runner binary at
// /usr/local/bin/offload-runner.
func NewPackager(bucket, baseImage string) *Packager {
	return &Packager{bucket: bucket, baseImage: baseImage}
}

var entrypointTmpl = template.Must(template.New("entrypoint").Parse(`#!/bin/sh
set -eu
exec /usr/local/bin/offload-runner \
  -bucket "{{.Bucket}}" \
  -payload-key "{{.PayloadKey}}" \
  -result-key "{{.ResultKey}}"
`))

var dockerfileTmpl = template.Must(template.New("dockerfile").Parse(`FROM {{.BaseImage}}

WORKDIR {{.WorkDir}}

COPY entrypoint.sh {{.WorkDir}}/entrypoint.sh
RUN chmod +x {{.WorkDir}}/entrypoint.sh

ENTRYPOINT ["/bin/sh"]
CMD ["{{.WorkDir}}/entrypoint.sh"]
`))

// Package serializes the invocation and renders its build context. Any
// failure here is a PackagingError: local, non-retryable, and reported before
// the backend is ever contacted.
func (p *Packager) Package(inv *task.Invocation) (*BuildContext, error) {
	payload, err := task.EncodePayload(inv)
	if err != nil {
		return nil, &task.PackagingError{TaskName: inv.TaskName, Err: err}
	}

	bc := &BuildContext{
		InvocationID: inv.ID,
		Tag:          inv.ImageTag(),
		Payload:      payload,
		PayloadKey:   inv.PayloadKey(),
		ResultKey:    inv.ResultKey(),
	}

	var entrypoint bytes.Buffer
	err = entrypointTmpl.Execute(&entrypoint, struct {
		Bucket, PayloadKey, ResultKey string
	}{p.bucket, bc.PayloadKey, bc.ResultKey})
	if err != nil {
		return nil, &task.PackagingError{TaskName: inv.TaskName, Err: fmt.Errorf("render entrypoint: %w", err)}
	}
	bc.Entrypoint = entrypoint.Bytes()

	var dockerfile bytes.Buffer
	err = dockerfileTmpl.Execute(&dockerfile, struct {
		BaseImage, WorkDir string
	}{p.baseImage, workDir})
	if err != nil {
		return nil, &task.PackagingError{TaskName: inv.TaskName, Err: fmt.Errorf("render dockerfile: %w", err)}
	}
	bc.Dockerfile = dockerfile.Bytes()

	return bc, nil
}
