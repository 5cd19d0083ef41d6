package cluster

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

// failureReasonMissing is what the backend reports for a run that is not yet
// visible to DescribeTasks.
const failureReasonMissing = "MISSING"

// Compile-time interface satisfaction check.
var _ ControlPlane = (*ECSControlPlane)(nil)

// ECSControlPlane implements ControlPlane against AWS ECS on Fargate, with
// CloudWatch Logs as the log destination.
type ECSControlPlane struct {
	ecs  *ecs.Client
	logs *cloudwatchlogs.Client
}

// NewECSControlPlane creates a control plane from an AWS configuration.
func NewECSControlPlane(cfg aws.Config) *ECSControlPlane {
	return &ECSControlPlane{
		ecs:  ecs.NewFromConfig(cfg),
		logs: cloudwatchlogs.NewFromConfig(cfg),
	}
}

// RegisterDefinition implements ControlPlane.
func (c *ECSControlPlane) RegisterDefinition(ctx context.Context, spec DefinitionSpec) (string, error) {
	out, err := c.ecs.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(spec.Family),
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
		NetworkMode:             ecstypes.NetworkModeAwsvpc,
		Cpu:                     aws.String(strconv.Itoa(spec.CPUUnits)),
		Memory:                  aws.String(strconv.Itoa(spec.MemoryMB)),
		ExecutionRoleArn:        aws.String(spec.ExecutionRoleARN),
		TaskRoleArn:             aws.String(spec.TaskRoleARN),
		ContainerDefinitions: []ecstypes.ContainerDefinition{
			{
				Name:      aws.String(spec.ContainerName),
				Image:     aws.String(spec.Image),
				Essential: aws.Bool(true),
				LogConfiguration: &ecstypes.LogConfiguration{
					LogDriver: ecstypes.LogDriverAwslogs,
					Options: map[string]string{
						"awslogs-region":        spec.LogRegion,
						"awslogs-group":         spec.LogGroup,
						"awslogs-create-group":  "true",
						"awslogs-stream-prefix": spec.LogStreamPrefix,
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("register task definition: %w", err)
	}
	if out.TaskDefinition == nil || out.TaskDefinition.TaskDefinitionArn == nil {
		return "", fmt.Errorf("register task definition: response carried no revision arn")
	}
	return *out.TaskDefinition.TaskDefinitionArn, nil
}

// StartRun implements ControlPlane. A failure carried inside a successful
// response is a definitive rejection and surfaces as RunRejectedError.
func (c *ECSControlPlane) StartRun(ctx context.Context, revision string, p Placement) (string, error) {
	assignIP := ecstypes.AssignPublicIpDisabled
	if p.AssignPublicIP {
		assignIP = ecstypes.AssignPublicIpEnabled
	}

	out, err := c.ecs.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(p.Cluster),
		TaskDefinition: aws.String(revision),
		LaunchType:     ecstypes.LaunchTypeFargate,
		Count:          aws.Int32(1),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        p.Subnets,
				SecurityGroups: p.SecurityGroups,
				AssignPublicIp: assignIP,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("run task: %w", err)
	}
	if len(out.Tasks) == 0 {
		reason := "no task placed"
		if len(out.Failures) > 0 {
			reason = formatFailure(out.Failures[0])
		}
		return "", &RunRejectedError{Reason: reason}
	}
	if out.Tasks[0].TaskArn == nil {
		return "", &RunRejectedError{Reason: "task placed without an arn"}
	}
	return *out.Tasks[0].TaskArn, nil
}

// DescribeRun implements ControlPlane.
func (c *ECSControlPlane) DescribeRun(ctx context.Context, clusterID, handle string) (RunObservation, error) {
	out, err := c.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(clusterID),
		Tasks:   []string{handle},
	})
	if err != nil {
		return RunObservation{}, fmt.Errorf("describe tasks: %w", err)
	}

	for _, t := range out.Tasks {
		if aws.ToString(t.TaskArn) != handle {
			continue
		}
		obs := RunObservation{
			Found:         true,
			LastStatus:    aws.ToString(t.LastStatus),
			StoppedReason: aws.ToString(t.StoppedReason),
		}
		if len(t.Containers) > 0 && t.Containers[0].ExitCode != nil {
			code := int(*t.Containers[0].ExitCode)
			obs.ExitCode = &code
		}
		return obs, nil
	}

	for _, f := range out.Failures {
		if aws.ToString(f.Arn) == handle && aws.ToString(f.Reason) == failureReasonMissing {
			// Eventual-consistency window right after dispatch.
			return RunObservation{Found: false}, nil
		}
	}
	return RunObservation{Found: false}, nil
}

// StopRun implements ControlPlane.
func (c *ECSControlPlane) StopRun(ctx context.Context, clusterID, handle, reason string) error {
	_, err := c.ecs.StopTask(ctx, &ecs.StopTaskInput{
		Cluster: aws.String(clusterID),
		Task:    aws.String(handle),
		Reason:  aws.String(reason),
	})
	if err != nil {
		return fmt.Errorf("stop task: %w", err)
	}
	return nil
}

// LogEvents implements ControlPlane.
func (c *ECSControlPlane) LogEvents(ctx context.Context, group, stream string) ([]string, error) {
	out, err := c.logs.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
		StartFromHead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get log events: %w", err)
	}

	lines := make([]string, 0, len(out.Events))
	for _, ev := range out.Events {
		lines = append(lines, aws.ToString(ev.Message))
	}
	return lines, nil
}

func formatFailure(f ecstypes.Failure) string {
	reason := aws.ToString(f.Reason)
	if detail := aws.ToString(f.Detail); detail != "" {
		return reason + ": " + detail
	}
	return reason
}
