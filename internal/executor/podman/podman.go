package podman

import (
	"context"
	"io"

	"github.com/containers/podman/v5/libpod/define"
	"github.com/containers/podman/v5/pkg/bindings/containers"
	"github.com/containers/podman/v5/pkg/bindings/images"
	"github.com/containers/podman/v5/pkg/specgen"
)

type podmanBackend interface {
	ImagePull(string) error
	ContainerCreate(*specgen.SpecGenerator) (string, error)
	ContainerAttach(id string, stdout, stderr io.Writer, ready chan bool) error
	ContainerStart(string) error
	ContainerInspect(string) (*define.InspectContainerData, error)
	ContainerWait(string) (int32, error)
	ContainerStop(string, uint) error
	ContainerRemove(string) error
	ContainerExists(string) (bool, error)
}

type podmanClient struct {
	ctx context.Context
}

func (cli *podmanClient) ImagePull(image string) error {
	_, err := images.Pull(cli.ctx, image, new(images.PullOptions).WithQuiet(true))
	return err
}

func (cli *podmanClient) ContainerCreate(spec *specgen.SpecGenerator) (string, error) {
	created, err := containers.CreateWithSpec(cli.ctx, spec, nil)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (cli *podmanClient) ContainerAttach(id string, stdout, stderr io.Writer, ready chan bool) error {
	opts := new(containers.AttachOptions).WithStream(true)
	return containers.Attach(cli.ctx, id, nil, stdout, stderr, ready, opts)
}

func (cli *podmanClient) ContainerStart(id string) error {
	return containers.Start(cli.ctx, id, nil)
}

func (cli *podmanClient) ContainerInspect(id string) (*define.InspectContainerData, error) {
	return containers.Inspect(cli.ctx, id, nil)
}

func (cli *podmanClient) ContainerWait(id string) (int32, error) {
	return containers.Wait(cli.ctx, id, nil)
}

func (cli *podmanClient) ContainerStop(id string, timeout uint) error {
	return containers.Stop(cli.ctx, id, new(containers.StopOptions).WithTimeout(timeout))
}

func (cli *podmanClient) ContainerRemove(id string) error {
	_, err := containers.Remove(cli.ctx, id, new(containers.RemoveOptions).WithForce(true).WithVolumes(true))
	return err
}

func (cli *podmanClient) ContainerExists(id string) (bool, error) {
	return containers.Exists(cli.ctx, id, nil)
}
