package pack_test

import (
	"archive/tar"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/halverson/offload/internal/pack"
	"github.com/halverson/offload/internal/task"
)

func makeInvocation(t *testing.T) *task.Invocation {
	t.Helper()
	inv, err := task.NewInvocation("sum", map[string]int{"x": 2, "y": 3}, task.Resources{CPU: 256, MemoryMB: 512}, time.Second)
	if err != nil {
		t.Fatalf("NewInvocation: %v", err)
	}
	return inv
}

func TestPackage(t *testing.T) {
	p := pack.NewPackager("results-bucket", "ghcr.io/halverson/offload-runner:latest")
	inv := makeInvocation(t)

	bc, err := p.Package(inv)
	if err != nil {
		t.Fatalf("Package: %v", err)
	}

	if bc.InvocationID != inv.ID {
		t.Errorf("InvocationID = %q, want %q", bc.InvocationID, inv.ID)
	}
	if bc.Tag != inv.ImageTag() {
		t.Errorf("Tag = %q, want %q", bc.Tag, inv.ImageTag())
	}
	if bc.PayloadKey != inv.PayloadKey() {
		t.Errorf("PayloadKey = %q, want %q", bc.PayloadKey, inv.PayloadKey())
	}

	payload, err := task.DecodePayload(bc.Payload)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.InvocationID != inv.ID || payload.TaskName != "sum" {
		t.Errorf("payload = %+v, want invocation %s task sum", payload, inv.ID)
	}

	entrypoint := string(bc.Entrypoint)
	for _, want := range []string{
		"#!/bin/sh",
		"/usr/local/bin/offload-runner",
		`-bucket "results-bucket"`,
		`-payload-key "` + inv.PayloadKey() + `"`,
		`-result-key "` + inv.ResultKey() + `"`,
	} {
		if !strings.Contains(entrypoint, want) {
			t.Errorf("entrypoint missing %q:\n%s", want, entrypoint)
		}
	}

	dockerfile := string(bc.Dockerfile)
	for _, want := range []string{
		"FROM ghcr.io/halverson/offload-runner:latest",
		"COPY entrypoint.sh",
		"WORKDIR /opt/offload",
	} {
		if !strings.Contains(dockerfile, want) {
			t.Errorf("dockerfile missing %q:\n%s", want, dockerfile)
		}
	}
}

func TestPackageSerializationFailure(t *testing.T) {
	p := pack.NewPackager("results-bucket", "base:latest")
	inv := makeInvocation(t)
	inv.TaskName = ""

	_, err := p.Package(inv)
	if err == nil {
		t.Fatal("expected error for unserializable invocation")
	}
	var pkgErr *task.PackagingError
	if !errors.As(err, &pkgErr) {
		t.Fatalf("error = %T, want *PackagingError", err)
	}
}

func TestTarContents(t *testing.T) {
	p := pack.NewPackager("results-bucket", "base:latest")
	bc, err := p.Package(makeInvocation(t))
	if err != nil {
		t.Fatalf("Package: %v", err)
	}

	r, err := bc.Tar()
	if err != nil {
		t.Fatalf("Tar: %v", err)
	}

	got := make(map[string]string)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read tar: %v", err)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("read tar entry %s: %v", hdr.Name, err)
		}
		got[hdr.Name] = string(body)
	}

	if got["Dockerfile"] != string(bc.Dockerfile) {
		t.Error("Dockerfile entry does not match build context")
	}
	if got["entrypoint.sh"] != string(bc.Entrypoint) {
		t.Error("entrypoint.sh entry does not match build context")
	}
	if len(got) != 2 {
		t.Errorf("tar has %d entries, want 2: %v", len(got), got)
	}
}
