package container

import (
	"context"
	"io"
	"testing"
)

func TestFakePullThenListImages(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	if err := f.Pull(ctx, "docker-bar", "1.0.0"); err != nil {
		t.Fatalf("Pull(...): %v", err)
	}

	images, err := f.ListImages(ctx)
	if err != nil {
		t.Fatalf("ListImages(...): %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("ListImages() = %v, want one image", images)
	}
	if images[0].RepoTags[0] != "docker-bar:1.0.0" {
		t.Errorf("RepoTags[0] = %q, want %q", images[0].RepoTags[0], "docker-bar:1.0.0")
	}
}

func TestFakeRunDetachedAndCopyFrom(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	c, err := f.RunDetached(ctx, "docker-bar:1.0.0", []string{"sleep", "infinity"})
	if err != nil {
		t.Fatalf("RunDetached(...): %v", err)
	}

	f.FileContents[c.ID()] = map[string][]byte{
		"/var/lib/sonic-package": []byte("tar-stream-bytes"),
	}

	rc, err := c.CopyFrom(ctx, "/var/lib/sonic-package")
	if err != nil {
		t.Fatalf("CopyFrom(...): %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll(...): %v", err)
	}
	if string(data) != "tar-stream-bytes" {
		t.Errorf("CopyFrom content = %q, want %q", data, "tar-stream-bytes")
	}

	if err := c.Remove(ctx, true); err != nil {
		t.Fatalf("Remove(...): %v", err)
	}
	containers, err := f.ListContainers(ctx)
	if err != nil {
		t.Fatalf("ListContainers(...): %v", err)
	}
	if len(containers) != 0 {
		t.Errorf("ListContainers() = %v, want empty after Remove", containers)
	}
}

func TestFakePullErr(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.PullErr = io.ErrUnexpectedEOF

	if err := f.Pull(ctx, "docker-bar", "1.0.0"); err == nil {
		t.Fatalf("Pull(...): expected error, got none")
	}
}
