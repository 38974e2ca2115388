// Package docker compiles and runs scrapers in Docker containers.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dyet92k/morph/internal/executor"
	"github.com/dyet92k/morph/pkg/container"
	"github.com/dyet92k/morph/pkg/log"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sync/errgroup"
)

// Executor implements executor.Executor against the Docker API.
type Executor struct {
	cfg     executor.Config
	backend dockerBackend
}

// New creates a docker Executor using the environment's
// Docker daemon settings.
func New(cfg executor.Config) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	return &Executor{cfg: cfg, backend: cli}, nil
}

// CompileAndRun builds and runs the scraper in a single container.
// Output is attached before the container starts so nothing
// written early is lost.
func (e *Executor) CompileAndRun(ctx context.Context, req *executor.Request, events chan<- executor.Event) (int, error) {
	scratch, err := executor.PrepareScratch(req.RepoPath, req.Language, e.cfg.ScratchRoot)
	if err != nil {
		return -1, err
	}
	defer os.RemoveAll(scratch)

	spec := e.cfg.Spec(req, scratch)

	if err := e.pull(ctx, spec.Image); err != nil {
		return -1, err
	}

	// a container left over from a crashed run holds the name
	if err := e.remove(ctx, spec.Name); err != nil && !errdefs.IsNotFound(err) {
		return -1, err
	}

	log.Info("creating docker container", "image", spec.Image, "name", spec.Name)

	created, err := e.backend.ContainerCreate(ctx, containerConfig(spec), hostConfig(spec), nil, nil, spec.Name)
	if err != nil {
		return -1, fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	defer func() {
		if err := e.remove(context.WithoutCancel(ctx), created.ID); err != nil && !errdefs.IsNotFound(err) {
			log.Error("remove docker container", "id", created.ID, "error", err)
		}
	}()

	attached, err := e.backend.ContainerAttach(ctx, created.ID, dockercontainer.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return -1, err
	}
	defer attached.Close()

	statusCh, errCh := e.backend.ContainerWait(ctx, created.ID, dockercontainer.WaitConditionNextExit)

	log.Info("starting docker container", "id", created.ID, "name", spec.Name, "cmd", spec.Command)

	if err := e.backend.ContainerStart(ctx, created.ID, dockercontainer.StartOptions{}); err != nil {
		return -1, fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}

	if addr, err := e.ipAddress(ctx, created.ID); err != nil {
		log.Warn("inspect docker container", "id", created.ID, "error", err)
	} else if addr != "" {
		executor.Send(ctx, events, executor.IPAddress{Addr: addr})
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	var g errgroup.Group
	g.Go(func() error {
		_, err := stdcopy.StdCopy(stdoutW, stderrW, attached.Reader)
		stdoutW.CloseWithError(err)
		stderrW.CloseWithError(err)
		return err
	})

	wait := func() (int, error) {
		select {
		case resp := <-statusCh:
			if resp.Error != nil {
				return -1, errors.New(resp.Error.Message)
			}
			return int(resp.StatusCode), nil
		case err := <-errCh:
			return -1, err
		}
	}

	code, err := e.cfg.Limiter().Run(stdoutR, stderrR, wait, executor.Forward(ctx, events))
	if err != nil {
		attached.Close()
		_ = g.Wait()
		return -1, err
	}

	if err := g.Wait(); err != nil {
		log.Warn("demultiplex docker output", "id", created.ID, "error", err)
	}

	log.Info("docker container exited", "id", created.ID, "status_code", code)

	return code, nil
}

// Stop stops the named container.
func (e *Executor) Stop(ctx context.Context, name string) error {
	log.Info("stopping docker container", "name", name)

	timeout := int(e.cfg.StopTimeout.Seconds())
	err := e.backend.ContainerStop(ctx, name, dockercontainer.StopOptions{Timeout: &timeout})
	if errdefs.IsNotFound(err) {
		return executor.ErrNotFound
	}
	return err
}

// ContainerExists reports whether the named container exists.
func (e *Executor) ContainerExists(ctx context.Context, name string) (bool, error) {
	_, err := e.backend.ContainerInspect(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errdefs.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func (e *Executor) pull(ctx context.Context, ref string) error {
	log.Info("pulling docker image", "image", ref)

	r, err := e.backend.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", ref, err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Error("close docker pull reader", "error", err)
		}
	}()

	if _, err = io.Copy(io.Discard, r); err != nil {
		return err
	}

	log.Info("docker image pulled", "image", ref)

	return nil
}

func (e *Executor) remove(ctx context.Context, id string) error {
	return e.backend.ContainerRemove(ctx, id, dockercontainer.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
}

func (e *Executor) ipAddress(ctx context.Context, id string) (string, error) {
	info, err := e.backend.ContainerInspect(ctx, id)
	if err != nil {
		return "", err
	}
	if info.NetworkSettings == nil {
		return "", nil
	}
	for _, ep := range info.NetworkSettings.Networks {
		if ep != nil && ep.IPAddress != "" {
			return ep.IPAddress, nil
		}
	}
	return "", nil
}

func containerConfig(spec container.Spec) *dockercontainer.Config {
	return &dockercontainer.Config{
		Image:        spec.Image,
		Cmd:          spec.Command,
		Env:          spec.EnvList(),
		Labels:       spec.Labels,
		WorkingDir:   spec.WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	}
}

func hostConfig(spec container.Spec) *dockercontainer.HostConfig {
	mounts := spec.BindMounts()
	if len(mounts) == 0 {
		return nil
	}
	result := make([]mount.Mount, 0, len(mounts))
	for _, mnt := range mounts {
		result = append(result, mount.Mount{
			Type:     mount.TypeBind,
			Source:   mnt.Source,
			Target:   mnt.Target,
			ReadOnly: mnt.ReadOnly,
		})
	}
	return &dockercontainer.HostConfig{Mounts: result}
}
