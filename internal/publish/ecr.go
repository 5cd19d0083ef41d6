package publish

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
)

// ECRTokenSource obtains short-lived registry credentials from ECR. The
// authorization token decodes to "AWS:<password>".
type ECRTokenSource struct {
	client *ecr.Client
}

// NewECRTokenSource creates a token source from an AWS configuration.
func NewECRTokenSource(cfg aws.Config) *ECRTokenSource {
	return &ECRTokenSource{client: ecr.NewFromConfig(cfg)}
}

// Credentials implements TokenSource.
func (s *ECRTokenSource) Credentials(ctx context.Context) (Credentials, error) {
	out, err := s.client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return Credentials{}, fmt.Errorf("get authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return Credentials{}, fmt.Errorf("authorization response carried no data")
	}

	data := out.AuthorizationData[0]
	raw, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return Credentials{}, fmt.Errorf("decode authorization token: %w", err)
	}
	username, password, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Credentials{}, fmt.Errorf("authorization token is not user:password formed")
	}

	return Credentials{
		Username: username,
		Password: password,
		Registry: strings.TrimPrefix(aws.ToString(data.ProxyEndpoint), "https://"),
	}, nil
}
