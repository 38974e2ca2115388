// Package engine selects the executor backend morph runs scrapers with.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyet92k/morph/internal/executor"
	"github.com/dyet92k/morph/internal/executor/docker"
	"github.com/dyet92k/morph/internal/executor/kubernetes"
	"github.com/dyet92k/morph/internal/executor/local"
	"github.com/dyet92k/morph/internal/executor/podman"
	"github.com/dyet92k/morph/pkg/env"
)

// Kind names an executor backend.
type Kind string

const (
	Docker     Kind = "docker"
	Podman     Kind = "podman"
	Kubernetes Kind = "kubernetes"
	Local      Kind = "local"
)

// Options configures the backend created by New.
type Options struct {
	Config              executor.Config
	PodmanURI           string
	KubernetesConfig    string
	KubernetesNamespace string
}

// ParseKind validates an engine name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Docker, Podman, Kubernetes, Local:
		return k, nil
	default:
		return "", fmt.Errorf("unknown engine %q", s)
	}
}

// New creates the executor backend of the given kind.
func New(ctx context.Context, kind Kind, opts Options) (executor.Executor, error) {
	var (
		e   executor.Executor
		err error
	)

	switch kind {
	case Docker:
		e, err = docker.New(opts.Config)
	case Podman:
		e, err = podman.New(ctx, opts.Config, opts.PodmanURI)
	case Kubernetes:
		e, err = kubernetes.New(opts.Config, opts.KubernetesConfig, opts.KubernetesNamespace)
	case Local:
		e = local.New(opts.Config)
	default:
		return nil, fmt.Errorf("unknown engine %q", kind)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s engine: %w", kind, err)
	}
	return e, nil
}

// OptionsFromEnv builds Options from the processed environment.
func OptionsFromEnv(vars env.Environment) Options {
	return Options{
		Config: executor.Config{
			Image:        vars.Image,
			Command:      executor.ParseCommand(vars.RunCommand),
			ScratchRoot:  vars.ScratchRoot,
			StopTimeout:  vars.StopTimeout,
			PollInterval: vars.PollInterval,
			ReadSize:     vars.ReadSize,
			MaxLineSize:  vars.MaxLineSize,
		},
		PodmanURI:           vars.PodmanURI,
		KubernetesConfig:    vars.KubernetesConfig,
		KubernetesNamespace: vars.KubernetesNamespace,
	}
}

// FromEnv creates the backend named by vars.Engine.
func FromEnv(ctx context.Context, vars env.Environment) (executor.Executor, error) {
	kind, err := ParseKind(vars.Engine)
	if err != nil {
		return nil, err
	}

	return New(ctx, kind, OptionsFromEnv(vars))
}
