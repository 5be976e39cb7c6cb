// Package container implements the Container Driver (spec.md §4.4): a thin
// wrapper over the Docker API for pulling/tagging/removing images and
// running/copying-from/removing containers. It surfaces only transient API
// errors; the orchestrator is responsible for wrapping them into a phase-
// scoped InstallationError.
package container

import (
	"context"
	"io"

	dockercontainer "github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/google/go-containerregistry/pkg/name"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
)

const (
	errNewClient       = "cannot create Docker client"
	errParseRef        = "cannot parse image reference %q"
	errPull            = "cannot pull image %q"
	errTag             = "cannot tag image %q as %q"
	errRemoveImage     = "cannot remove image %q"
	errListImages      = "cannot list images"
	errListContainers  = "cannot list containers"
	errCreate          = "cannot create container from image %q"
	errStart           = "cannot start container %q"
	errCopyFrom        = "cannot copy %q from container %q"
	errRemoveContainer = "cannot remove container %q"
)

// ImageInfo is the subset of docker image attributes the Solver and
// Metadata Extractor need.
type ImageInfo struct {
	ID       string
	RepoTags []string
}

// ContainerInfo is the subset of docker container attributes needed to
// locate a running helper container.
type ContainerInfo struct {
	ID    string
	Image string
	Names []string
}

// Engine is the Container Driver contract (spec.md §4.4). Driver is the
// production implementation; tests substitute a fake.
type Engine interface {
	Pull(ctx context.Context, repo, tag string) error
	Tag(ctx context.Context, image, repo, newTag string) error
	RemoveImage(ctx context.Context, ref string, force bool) error
	ListImages(ctx context.Context) ([]ImageInfo, error)
	ListContainers(ctx context.Context) ([]ContainerInfo, error)
	RunDetached(ctx context.Context, image string, entrypointArgs []string) (Container, error)
}

// Container is a handle to a running (or just-stopped) container.
type Container interface {
	ID() string
	CopyFrom(ctx context.Context, path string) (io.ReadCloser, error)
	Remove(ctx context.Context, force bool) error
}

// Driver is the default Engine, a Docker API client scoped to the
// operations the package manager needs.
type Driver struct {
	cli *client.Client
	log logging.Logger
}

var _ Engine = (*Driver)(nil)

// New constructs a Driver from the environment's Docker configuration
// (DOCKER_HOST, DOCKER_CERT_PATH, etc.), the same client construction the
// teacher uses for its own Docker runtime.
func New(log logging.Logger) (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, errNewClient)
	}
	return &Driver{cli: cli, log: log}, nil
}

// Pull pulls repo:tag and blocks until the pull completes or fails.
func (d *Driver) Pull(ctx context.Context, repo, tag string) error {
	ref := repo + ":" + tag
	d.log.Debug("pulling image", "ref", ref)

	out, err := d.cli.ImagePull(ctx, ref, dockerimage.PullOptions{})
	if err != nil {
		return errors.Wrapf(err, errPull, ref)
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(io.Discard, out); err != nil {
		return errors.Wrapf(err, errPull, ref)
	}
	return nil
}

// Tag applies newTag to image under repo.
func (d *Driver) Tag(ctx context.Context, image, repo, newTag string) error {
	if _, err := name.ParseReference(repo + ":" + newTag); err != nil {
		return errors.Wrapf(err, errParseRef, repo+":"+newTag)
	}
	if err := d.cli.ImageTag(ctx, image, repo+":"+newTag); err != nil {
		return errors.Wrapf(err, errTag, image, repo+":"+newTag)
	}
	return nil
}

// RemoveImage removes ref (e.g. "repo:tag"), optionally forcing removal of
// an image still referenced by stopped containers.
func (d *Driver) RemoveImage(ctx context.Context, ref string, force bool) error {
	if _, err := d.cli.ImageRemove(ctx, ref, dockerimage.RemoveOptions{Force: force}); err != nil {
		return errors.Wrapf(err, errRemoveImage, ref)
	}
	return nil
}

// ListImages returns every image known to the daemon.
func (d *Driver) ListImages(ctx context.Context) ([]ImageInfo, error) {
	images, err := d.cli.ImageList(ctx, dockerimage.ListOptions{All: true})
	if err != nil {
		return nil, errors.Wrap(err, errListImages)
	}
	out := make([]ImageInfo, 0, len(images))
	for _, img := range images {
		out = append(out, ImageInfo{ID: img.ID, RepoTags: img.RepoTags})
	}
	return out, nil
}

// ListContainers returns every container known to the daemon, including
// stopped ones.
func (d *Driver) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	containers, err := d.cli.ContainerList(ctx, dockercontainer.ListOptions{All: true})
	if err != nil {
		return nil, errors.Wrap(err, errListContainers)
	}
	out := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		out = append(out, ContainerInfo{ID: c.ID, Image: c.Image, Names: c.Names})
	}
	return out, nil
}

// RunningContainer is a handle to a detached, running container.
type RunningContainer struct {
	driver *Driver
	id     string
}

var _ Container = (*RunningContainer)(nil)

// ID returns the container's daemon-assigned ID.
func (c *RunningContainer) ID() string { return c.id }

// RunDetached creates and starts a container from image with the given
// entrypoint override, returning a handle once the container is running.
func (d *Driver) RunDetached(ctx context.Context, image string, entrypointArgs []string) (Container, error) {
	cfg := &dockercontainer.Config{
		Image:      image,
		Entrypoint: entrypointArgs,
	}

	rsp, err := d.cli.ContainerCreate(ctx, cfg, &dockercontainer.HostConfig{}, nil, nil, "")
	if err != nil {
		return nil, errors.Wrapf(err, errCreate, image)
	}
	if err := d.cli.ContainerStart(ctx, rsp.ID, dockercontainer.StartOptions{}); err != nil {
		return nil, errors.Wrapf(err, errStart, rsp.ID)
	}
	return &RunningContainer{driver: d, id: rsp.ID}, nil
}

// CopyFrom returns a tar stream of path from the container's filesystem.
func (c *RunningContainer) CopyFrom(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, _, err := c.driver.cli.CopyFromContainer(ctx, c.id, path)
	if err != nil {
		return nil, errors.Wrapf(err, errCopyFrom, path, c.id)
	}
	return rc, nil
}

// Remove stops (if needed) and removes the container. It tolerates the
// container already being gone, so callers can use it unconditionally
// during cleanup.
func (c *RunningContainer) Remove(ctx context.Context, force bool) error {
	err := c.driver.cli.ContainerRemove(ctx, c.id, dockercontainer.RemoveOptions{Force: force})
	if err != nil && !client.IsErrNotFound(err) {
		return errors.Wrapf(err, errRemoveContainer, c.id)
	}
	return nil
}
