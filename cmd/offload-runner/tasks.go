package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/halverson/offload/internal/task"
)

// registerTasks wires the handlers compiled into this runner image. Add new
// tasks here and rebuild the base image to make them dispatchable.
func registerTasks(r *task.Registry) {
	r.Register("sum", sumTask)
	r.Register("echo", echoTask)
}

func sumTask(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return in.X + in.Y, nil
}

func echoTask(_ context.Context, args json.RawMessage) (any, error) {
	return args, nil
}
