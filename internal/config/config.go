package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultCluster           = "offload-cluster"
	defaultTaskFamily        = "offload-tasks"
	defaultExecutionRoleName = "ecsTaskExecutionRole"
	defaultTaskRoleName      = "OffloadTaskRole"
	defaultLogGroup          = "offload-task-logs"
	defaultLogStreamPrefix   = "offload"
	defaultBucket            = "offload-task-resources"
	defaultRepo              = "offload-task-images"
	defaultBaseImage         = "ghcr.io/halverson/offload-runner:latest"
	defaultCPUUnits          = 256
	defaultMemoryMB          = 512
	defaultPollInterval      = 10 * time.Second
	defaultJournalPath       = "offload.db"

	envRegion            = "OFFLOAD_AWS_REGION"
	envProfile           = "OFFLOAD_AWS_PROFILE"
	envCluster           = "OFFLOAD_CLUSTER"
	envTaskFamily        = "OFFLOAD_TASK_FAMILY"
	envSubnets           = "OFFLOAD_SUBNETS"
	envSecurityGroups    = "OFFLOAD_SECURITY_GROUPS"
	envExecutionRoleName = "OFFLOAD_EXECUTION_ROLE"
	envTaskRoleName      = "OFFLOAD_TASK_ROLE"
	envAssignPublicIP    = "OFFLOAD_ASSIGN_PUBLIC_IP"
	envLogGroup          = "OFFLOAD_LOG_GROUP"
	envLogStreamPrefix   = "OFFLOAD_LOG_STREAM_PREFIX"
	envBucket            = "OFFLOAD_BUCKET"
	envRepo              = "OFFLOAD_REPO"
	envBaseImage         = "OFFLOAD_BASE_IMAGE"
	envCPUUnits          = "OFFLOAD_CPU_UNITS"
	envMemoryMB          = "OFFLOAD_MEMORY_MB"
	envPollIntervalS     = "OFFLOAD_POLL_INTERVAL_S"
	envJournalPath       = "OFFLOAD_JOURNAL_PATH"
	envListenAddr        = "OFFLOAD_LISTEN_ADDR"
	envLogLevel          = "OFFLOAD_LOG_LEVEL"
)

// Config holds application configuration loaded from environment variables.
// Every value maps onto one lifecycle component; absence of an optional value
// falls back to the documented default.
type Config struct {
	// AWS session settings.
	Region  string
	Profile string

	// Target environment descriptor.
	Cluster           string
	TaskFamily        string
	Subnets           []string
	SecurityGroups    []string
	ExecutionRoleName string
	TaskRoleName      string
	AssignPublicIP    bool

	// Log destination for remote runs.
	LogGroup        string
	LogStreamPrefix string

	// Result store and image registry identifiers.
	Bucket string
	Repo   string

	// Base image for generated build contexts. Must contain the runner binary.
	BaseImage string

	// Per-task resource shape.
	CPUUnits int
	MemoryMB int

	// Status poller interval.
	PollInterval time.Duration

	// Local invocation journal and ops surface. Empty ListenAddr disables the
	// HTTP listener.
	JournalPath string
	ListenAddr  string
	LogLevel    slog.Level
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		Region:            os.Getenv(envRegion),
		Profile:           os.Getenv(envProfile),
		Cluster:           defaultCluster,
		TaskFamily:        defaultTaskFamily,
		ExecutionRoleName: defaultExecutionRoleName,
		TaskRoleName:      defaultTaskRoleName,
		LogGroup:          defaultLogGroup,
		LogStreamPrefix:   defaultLogStreamPrefix,
		Bucket:            defaultBucket,
		Repo:              defaultRepo,
		BaseImage:         defaultBaseImage,
		CPUUnits:          defaultCPUUnits,
		MemoryMB:          defaultMemoryMB,
		PollInterval:      defaultPollInterval,
		JournalPath:       defaultJournalPath,
		LogLevel:          slog.LevelInfo,
	}

	if v := os.Getenv(envCluster); v != "" {
		cfg.Cluster = v
	}
	if v := os.Getenv(envTaskFamily); v != "" {
		cfg.TaskFamily = v
	}
	cfg.Subnets = splitList(os.Getenv(envSubnets))
	cfg.SecurityGroups = splitList(os.Getenv(envSecurityGroups))
	if v := os.Getenv(envExecutionRoleName); v != "" {
		cfg.ExecutionRoleName = v
	}
	if v := os.Getenv(envTaskRoleName); v != "" {
		cfg.TaskRoleName = v
	}
	cfg.AssignPublicIP = parseBool(os.Getenv(envAssignPublicIP))
	if v := os.Getenv(envLogGroup); v != "" {
		cfg.LogGroup = v
	}
	if v := os.Getenv(envLogStreamPrefix); v != "" {
		cfg.LogStreamPrefix = v
	}
	if v := os.Getenv(envBucket); v != "" {
		cfg.Bucket = v
	}
	if v := os.Getenv(envRepo); v != "" {
		cfg.Repo = v
	}
	if v := os.Getenv(envBaseImage); v != "" {
		cfg.BaseImage = v
	}
	if v, err := strconv.Atoi(os.Getenv(envCPUUnits)); err == nil && v > 0 {
		cfg.CPUUnits = v
	}
	if v, err := strconv.Atoi(os.Getenv(envMemoryMB)); err == nil && v > 0 {
		cfg.MemoryMB = v
	}
	if v, err := strconv.Atoi(os.Getenv(envPollIntervalS)); err == nil && v > 0 {
		cfg.PollInterval = time.Duration(v) * time.Second
	}
	if v := os.Getenv(envJournalPath); v != "" {
		cfg.JournalPath = v
	}
	cfg.ListenAddr = os.Getenv(envListenAddr)
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	return cfg
}

// splitList parses a comma-separated identifier list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(s string) bool {
	v, err := strconv.ParseBool(s)
	return err == nil && v
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
