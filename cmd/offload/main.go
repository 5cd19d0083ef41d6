package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/docker/docker/client"

	"github.com/halverson/offload/internal/api"
	"github.com/halverson/offload/internal/cluster"
	"github.com/halverson/offload/internal/config"
	"github.com/halverson/offload/internal/engine"
	"github.com/halverson/offload/internal/journal"
	"github.com/halverson/offload/internal/pack"
	"github.com/halverson/offload/internal/poll"
	"github.com/halverson/offload/internal/publish"
	"github.com/halverson/offload/internal/result"
	"github.com/halverson/offload/internal/task"
)

func main() {
	taskName := flag.String("task", "", "registered task name to offload")
	argsJSON := flag.String("args", "{}", "JSON-encoded task arguments")
	flag.Parse()

	if *taskName == "" {
		log.Fatal("usage: offload -task <name> [-args <json>]")
	}

	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to load AWS configuration: %v", err)
	}

	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		log.Fatalf("failed to create Docker client: %v", err)
	}
	defer docker.Close()

	j, err := journal.NewSQLiteJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("failed to open journal: %v", err)
	}
	defer j.Close()

	cp := cluster.NewECSControlPlane(awsCfg)
	status := cluster.NewStatusSource(cp, cfg.Cluster)
	store := result.NewS3Store(awsCfg, cfg.Bucket)

	eng := engine.New(engine.Params{
		Packager:   pack.NewPackager(cfg.Bucket, cfg.BaseImage),
		Publisher:  publish.NewPublisher(docker, publish.NewECRTokenSource(awsCfg), cfg.Repo, logger),
		Registrar:  cluster.NewRegistrar(cp, logger),
		Dispatcher: cluster.NewDispatcher(cp, logger),
		Poller:     poll.New(status, cfg.PollInterval, logger),
		Status:     status,
		Retriever:  result.NewRetriever(store, cp, cfg.LogGroup, cfg.LogStreamPrefix, logger),
		Payloads:   store,
		Identity:   cluster.NewSTSIdentity(awsCfg),
		Journal:    j,
		Env: engine.Environment{
			Placement: cluster.Placement{
				Cluster:        cfg.Cluster,
				Subnets:        cfg.Subnets,
				SecurityGroups: cfg.SecurityGroups,
				AssignPublicIP: cfg.AssignPublicIP,
			},
			TaskFamily:        cfg.TaskFamily,
			ExecutionRoleName: cfg.ExecutionRoleName,
			TaskRoleARN:       cfg.TaskRoleName,
			LogGroup:          cfg.LogGroup,
			LogRegion:         awsCfg.Region,
			LogStreamPrefix:   cfg.LogStreamPrefix,
		},
		Logger: logger,
	})

	if cfg.ListenAddr != "" {
		srv := api.NewServer(cfg.ListenAddr, j, logger)
		go func() {
			if err := srv.Run(); err != nil {
				logger.Error("ops server", "error", err)
			}
		}()
	}

	inv, err := task.NewInvocation(
		*taskName,
		json.RawMessage(*argsJSON),
		task.Resources{CPU: cfg.CPUUnits, MemoryMB: cfg.MemoryMB},
		cfg.PollInterval,
	)
	if err != nil {
		log.Fatalf("failed to build invocation: %v", err)
	}

	logger.Info("offload: executing",
		"invocation_id", inv.ID,
		"task", inv.TaskName,
		"cluster", cfg.Cluster,
	)

	value, err := eng.Execute(ctx, inv)
	if err != nil {
		log.Fatalf("invocation %s: %v", inv.ID, err)
	}

	fmt.Println(string(value))
}

func loadAWSConfig(ctx context.Context, cfg config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
