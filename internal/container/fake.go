package container

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Fake is an in-memory Engine used by orchestrator and metadata tests,
// avoiding a real Docker daemon.
type Fake struct {
	Images     map[string]ImageInfo
	Containers map[string]ContainerInfo

	// FileContents is returned by CopyFrom, keyed by container ID or by the
	// image reference the container was started from, then by the requested
	// path. Keying by image lets tests register content before any container
	// exists.
	FileContents map[string]map[string][]byte

	// PullErr, when set, is returned by every Pull call.
	PullErr error

	nextID int
}

// NewFake returns an empty Fake engine.
func NewFake() *Fake {
	return &Fake{
		Images:       map[string]ImageInfo{},
		Containers:   map[string]ContainerInfo{},
		FileContents: map[string]map[string][]byte{},
	}
}

// Pull implements Engine.
func (f *Fake) Pull(_ context.Context, repo, tag string) error {
	if f.PullErr != nil {
		return f.PullErr
	}
	ref := repo + ":" + tag
	f.Images[ref] = ImageInfo{ID: "sha256:" + ref, RepoTags: []string{ref}}
	return nil
}

// Tag implements Engine.
func (f *Fake) Tag(_ context.Context, image, repo, newTag string) error {
	img, ok := f.Images[image]
	if !ok {
		return fmt.Errorf("fake: no such image %q", image)
	}
	ref := repo + ":" + newTag
	img.RepoTags = append(img.RepoTags, ref)
	f.Images[ref] = img
	return nil
}

// RemoveImage implements Engine.
func (f *Fake) RemoveImage(_ context.Context, ref string, _ bool) error {
	delete(f.Images, ref)
	return nil
}

// ListImages implements Engine.
func (f *Fake) ListImages(_ context.Context) ([]ImageInfo, error) {
	out := make([]ImageInfo, 0, len(f.Images))
	for _, img := range f.Images {
		out = append(out, img)
	}
	return out, nil
}

// ListContainers implements Engine.
func (f *Fake) ListContainers(_ context.Context) ([]ContainerInfo, error) {
	out := make([]ContainerInfo, 0, len(f.Containers))
	for _, c := range f.Containers {
		out = append(out, c)
	}
	return out, nil
}

// RunDetached implements Engine.
func (f *Fake) RunDetached(_ context.Context, image string, _ []string) (Container, error) {
	f.nextID++
	id := fmt.Sprintf("fake-container-%d", f.nextID)
	f.Containers[id] = ContainerInfo{ID: id, Image: image, Names: []string{"/" + id}}
	return &fakeContainer{fake: f, id: id}, nil
}

var _ Engine = (*Fake)(nil)

type fakeContainer struct {
	fake *Fake
	id   string
}

var _ Container = (*fakeContainer)(nil)

func (c *fakeContainer) ID() string { return c.id }

func (c *fakeContainer) CopyFrom(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := c.fake.FileContents[c.id][path]
	if !ok {
		data, ok = c.fake.FileContents[c.fake.Containers[c.id].Image][path]
	}
	if !ok {
		return nil, fmt.Errorf("fake: no content registered for %q on container %q", path, c.id)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (c *fakeContainer) Remove(_ context.Context, _ bool) error {
	delete(c.fake.Containers, c.id)
	return nil
}
