package pack

import (
	"archive/tar"
	"bytes"
	"fmt"
	"time"
)

// Tar bundles the build context into the tar stream the image builder
// expects: a Dockerfile and the entrypoint script it copies in.
func (bc *BuildContext) Tar() (*bytes.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	files := []struct {
		name string
		body []byte
	}{
		{"Dockerfile", bc.Dockerfile},
		{"entrypoint.sh", bc.Entrypoint},
	}
	for _, f := range files {
		hdr := &tar.Header{
			Name:    f.name,
			Mode:    0o644,
			Size:    int64(len(f.body)),
			ModTime: time.Now().UTC(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write tar header %s: %w", f.name, err)
		}
		if _, err := tw.Write(f.body); err != nil {
			return nil, fmt.Errorf("write tar entry %s: %w", f.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}

	return bytes.NewReader(buf.Bytes()), nil
}
