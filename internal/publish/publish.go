// Package publish builds the container image for a packaged invocation and
// pushes it to the remote image registry, tagged uniquely per invocation.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/halverson/offload/internal/pack"
)

// Publish failure kinds.
const (
	KindAuth  = "auth"
	KindBuild = "build"
	KindPush  = "push"
)

const (
	defaultPushAttempts = 3
	defaultPushBackoff  = 2 * time.Second

	// buildLogTail bounds the excerpt attached to build failures.
	buildLogTail = 20
)

// PublishError reports an image publish failure. Transient push failures may
// be retried by the publisher itself; auth and build failures are final.
type PublishError struct {
	InvocationID string
	Kind         string
	Transient    bool
	BuildLog     []string
	Err          error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish image for invocation %s (%s): %v", e.InvocationID, e.Kind, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Credentials hold registry login material. Registry is the host, no scheme.
type Credentials struct {
	Username string
	Password string
	Registry string
}

// TokenSource authenticates against the remote image registry.
type TokenSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// ImageAPI is the subset of the Docker Engine API the publisher uses.
// *client.Client satisfies it.
type ImageAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
}

// Publisher turns build contexts into pushed registry images.
type Publisher struct {
	docker       ImageAPI
	tokens       TokenSource
	repo         string
	logger       *slog.Logger
	pushAttempts int
	pushBackoff  time.Duration
}

// NewPublisher creates a publisher targeting the given registry repository.
func NewPublisher(docker ImageAPI, tokens TokenSource, repo string, logger *slog.Logger) *Publisher {
	return &Publisher{
		docker:       docker,
		tokens:       tokens,
		repo:         repo,
		logger:       logger,
		pushAttempts: defaultPushAttempts,
		pushBackoff:  defaultPushBackoff,
	}
}

// Publish builds the image described by the build context, authenticates to
// the registry, and pushes it. The returned reference is the fully qualified
// invocation-tagged image the task definition will run.
func (p *Publisher) Publish(ctx context.Context, bc *pack.BuildContext) (string, error) {
	tarball, err := bc.Tar()
	if err != nil {
		return "", &PublishError{InvocationID: bc.InvocationID, Kind: KindBuild, Err: err}
	}

	resp, err := p.docker.ImageBuild(ctx, tarball, types.ImageBuildOptions{
		Tags:       []string{bc.Tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return "", &PublishError{InvocationID: bc.InvocationID, Kind: KindBuild, Err: err}
	}
	buildLog, err := drainStream(resp.Body)
	if err != nil {
		return "", &PublishError{InvocationID: bc.InvocationID, Kind: KindBuild, BuildLog: buildLog, Err: err}
	}
	p.logger.Debug("image built", "invocation_id", bc.InvocationID, "tag", bc.Tag)

	creds, err := p.tokens.Credentials(ctx)
	if err != nil {
		return "", &PublishError{InvocationID: bc.InvocationID, Kind: KindAuth, Err: err}
	}

	ref := fmt.Sprintf("%s/%s:%s", creds.Registry, p.repo, bc.Tag)
	if err := p.docker.ImageTag(ctx, bc.Tag, ref); err != nil {
		return "", &PublishError{InvocationID: bc.InvocationID, Kind: KindPush, Err: fmt.Errorf("tag image: %w", err)}
	}

	auth, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      creds.Username,
		Password:      creds.Password,
		ServerAddress: creds.Registry,
	})
	if err != nil {
		return "", &PublishError{InvocationID: bc.InvocationID, Kind: KindAuth, Err: fmt.Errorf("encode auth: %w", err)}
	}

	if err := p.push(ctx, bc.InvocationID, ref, auth); err != nil {
		return "", err
	}

	p.logger.Info("image published", "invocation_id", bc.InvocationID, "image", ref)
	return ref, nil
}

// push uploads the tagged image, retrying transient failures a bounded number
// of times. Authorization failures surface immediately.
func (p *Publisher) push(ctx context.Context, invocationID, ref, auth string) error {
	var lastErr error
	for attempt := 1; attempt <= p.pushAttempts; attempt++ {
		body, err := p.docker.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: auth})
		if err == nil {
			_, err = drainStream(body)
			if err == nil {
				return nil
			}
		}

		if authFailure(err) {
			return &PublishError{InvocationID: invocationID, Kind: KindAuth, Err: err}
		}
		lastErr = err
		p.logger.Warn("transient push failure",
			"invocation_id", invocationID,
			"attempt", attempt,
			"error", err,
		)

		if attempt == p.pushAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return &PublishError{InvocationID: invocationID, Kind: KindPush, Transient: true, Err: ctx.Err()}
		case <-time.After(p.pushBackoff):
		}
	}
	return &PublishError{
		InvocationID: invocationID,
		Kind:         KindPush,
		Transient:    true,
		Err:          fmt.Errorf("push failed after %d attempts: %w", p.pushAttempts, lastErr),
	}
}

// drainStream consumes a Docker daemon JSON message stream, keeping a bounded
// tail of output lines and surfacing any in-band daemon error.
func drainStream(r io.ReadCloser) ([]string, error) {
	defer r.Close()

	var tail []string
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return tail, nil
			}
			return tail, fmt.Errorf("decode daemon stream: %w", err)
		}
		if line := strings.TrimSpace(msg.Stream); line != "" {
			tail = append(tail, line)
			if len(tail) > buildLogTail {
				tail = tail[1:]
			}
		}
		if msg.Error != nil {
			return tail, fmt.Errorf("daemon: %s", msg.Error.Message)
		}
	}
}

// authFailure reports whether a push error is an authorization rejection
// rather than a transient transport failure.
func authFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "denied") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "authentication required")
}
