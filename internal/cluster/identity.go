package cluster

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Identity resolves the account the lifecycle operates under. The account id
// is needed to render the execution role ARN in definition specs.
type Identity interface {
	AccountID(ctx context.Context) (string, error)
}

// STSIdentity implements Identity via the caller-identity API.
type STSIdentity struct {
	client *sts.Client
}

// NewSTSIdentity creates an identity resolver from an AWS configuration.
func NewSTSIdentity(cfg aws.Config) *STSIdentity {
	return &STSIdentity{client: sts.NewFromConfig(cfg)}
}

// AccountID implements Identity.
func (s *STSIdentity) AccountID(ctx context.Context) (string, error) {
	out, err := s.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	if out.Account == nil || *out.Account == "" {
		return "", fmt.Errorf("caller identity carried no account id")
	}
	return *out.Account, nil
}

// ExecutionRoleARN renders the IAM role ARN for a role name in an account.
func ExecutionRoleARN(accountID, roleName string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
}
