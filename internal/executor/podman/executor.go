// Package podman compiles and runs scrapers in Podman containers.
package podman

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/containers/podman/v5/libpod/define"
	"github.com/containers/podman/v5/pkg/bindings"
	"github.com/containers/podman/v5/pkg/specgen"
	"github.com/dyet92k/morph/internal/executor"
	"github.com/dyet92k/morph/pkg/container"
	"github.com/dyet92k/morph/pkg/log"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sync/errgroup"
)

// Executor implements executor.Executor against the Podman API.
type Executor struct {
	cfg     executor.Config
	backend podmanBackend
}

// New connects to the Podman service at uri.
func New(ctx context.Context, cfg executor.Config, uri string) (*Executor, error) {
	conn, err := bindings.NewConnection(ctx, uri)
	if err != nil {
		return nil, err
	}

	return &Executor{
		cfg:     cfg,
		backend: &podmanClient{ctx: conn},
	}, nil
}

// CompileAndRun builds and runs the scraper in a single container.
func (e *Executor) CompileAndRun(ctx context.Context, req *executor.Request, events chan<- executor.Event) (int, error) {
	scratch, err := executor.PrepareScratch(req.RepoPath, req.Language, e.cfg.ScratchRoot)
	if err != nil {
		return -1, err
	}
	defer os.RemoveAll(scratch)

	spec := e.cfg.Spec(req, scratch)

	log.Info("pulling podman image", "image", spec.Image)

	if err := e.backend.ImagePull(spec.Image); err != nil {
		return -1, fmt.Errorf("failed to pull %s: %w", spec.Image, err)
	}

	log.Info("podman image pulled", "image", spec.Image)

	if exists, err := e.backend.ContainerExists(spec.Name); err != nil {
		return -1, err
	} else if exists {
		if err := e.backend.ContainerRemove(spec.Name); err != nil {
			return -1, err
		}
	}

	id, err := e.backend.ContainerCreate(specGenerator(spec))
	if err != nil {
		return -1, fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	defer func() {
		if err := e.backend.ContainerRemove(id); err != nil {
			log.Error("remove podman container", "id", id, "error", err)
		}
	}()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	var (
		g         errgroup.Group
		ready     = make(chan bool, 1)
		attachErr = make(chan error, 1)
	)
	g.Go(func() error {
		err := e.backend.ContainerAttach(id, stdoutW, stderrW, ready)
		stdoutW.CloseWithError(err)
		stderrW.CloseWithError(err)
		attachErr <- err
		return err
	})

	select {
	case <-ready:
	case err := <-attachErr:
		if err == nil {
			err = fmt.Errorf("attach to %s ended before start", spec.Name)
		}
		return -1, err
	}

	log.Info("starting podman container", "id", id, "name", spec.Name, "cmd", spec.Command)

	if err := e.backend.ContainerStart(id); err != nil {
		return -1, fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}

	if data, err := e.backend.ContainerInspect(id); err != nil {
		log.Warn("inspect podman container", "id", id, "error", err)
	} else if addr := ipAddress(data); addr != "" {
		executor.Send(ctx, events, executor.IPAddress{Addr: addr})
	}

	wait := func() (int, error) {
		code, err := e.backend.ContainerWait(id)
		return int(code), err
	}

	code, err := e.cfg.Limiter().Run(stdoutR, stderrR, wait, executor.Forward(ctx, events))
	if err != nil {
		return -1, err
	}

	if err := g.Wait(); err != nil {
		log.Warn("attach podman container", "id", id, "error", err)
	}

	log.Info("podman container exited", "id", id, "status_code", code)

	return code, nil
}

// Stop stops the named container.
func (e *Executor) Stop(ctx context.Context, name string) error {
	exists, err := e.backend.ContainerExists(name)
	if err != nil {
		return err
	}
	if !exists {
		return executor.ErrNotFound
	}

	log.Info("stopping podman container", "name", name)

	return e.backend.ContainerStop(name, uint(e.cfg.StopTimeout.Seconds()))
}

// ContainerExists reports whether the named container exists.
func (e *Executor) ContainerExists(ctx context.Context, name string) (bool, error) {
	return e.backend.ContainerExists(name)
}

func specGenerator(spec container.Spec) *specgen.SpecGenerator {
	s := specgen.NewSpecGenerator(spec.Image, false)
	s.Name = spec.Name
	s.Command = spec.Command
	s.Env = spec.Env
	s.Labels = spec.Labels
	s.WorkDir = spec.WorkDir

	for _, mnt := range spec.BindMounts() {
		options := []string{"rbind"}
		if mnt.ReadOnly {
			options = append(options, "ro")
		}
		s.Mounts = append(s.Mounts, specs.Mount{
			Type:        string(container.MountTypeBind),
			Source:      mnt.Source,
			Destination: mnt.Target,
			Options:     options,
		})
	}

	return s
}

func ipAddress(data *define.InspectContainerData) string {
	if data == nil || data.NetworkSettings == nil {
		return ""
	}
	if data.NetworkSettings.IPAddress != "" {
		return data.NetworkSettings.IPAddress
	}
	for _, n := range data.NetworkSettings.Networks {
		if n != nil && n.IPAddress != "" {
			return n.IPAddress
		}
	}
	return ""
}
