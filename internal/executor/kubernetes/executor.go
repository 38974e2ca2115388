// Package kubernetes compiles and runs scrapers as Kubernetes pods.
// The scratch build and data directory are mounted from the node's
// filesystem, so morph must run on the node that schedules the pod.
package kubernetes

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sort"

	"github.com/dyet92k/morph/internal/executor"
	"github.com/dyet92k/morph/pkg/container"
	"github.com/dyet92k/morph/pkg/log"
	v1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	corev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/clientcmd"
)

// Executor implements executor.Executor with pods. Kubernetes
// merges a container's stdout and stderr into one log, so all
// output is reported on stdout.
type Executor struct {
	cfg       executor.Config
	namespace string
	backend   kubernetesBackend
	logStream func(ctx context.Context, name string) (io.ReadCloser, error)
}

var getKubernetesCore = func(k8sCfg string) (corev1.CoreV1Interface, error) {
	if k8sCfg == "" {
		u, err := user.Current()
		if err != nil {
			return nil, err
		}
		k8sCfg = filepath.Join(u.HomeDir, kubeConfig)
	} else {
		k8sCfg = filepath.Join(k8sCfg, kubeConfig)
	}

	config, err := clientcmd.BuildConfigFromFlags("", k8sCfg)
	if err != nil {
		return nil, err
	}

	cli, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, err
	}

	return cli.CoreV1(), nil
}

// New creates a kubernetes Executor scheduling pods in namespace.
// The optional core client replaces the one built from the
// kubeconfig found in configDir.
func New(cfg executor.Config, configDir, namespace string, core ...corev1.CoreV1Interface) (*Executor, error) {
	var backend corev1.CoreV1Interface

	if len(core) > 0 {
		backend = core[0]
	} else {
		var err error
		if backend, err = getKubernetesCore(configDir); err != nil {
			return nil, err
		}
	}

	e := &Executor{
		cfg:       cfg,
		namespace: namespace,
		backend:   backend.Pods(namespace),
	}
	e.logStream = e.followLogs
	return e, nil
}

func (e *Executor) followLogs(ctx context.Context, name string) (io.ReadCloser, error) {
	return e.backend.GetLogs(name, &v1.PodLogOptions{Follow: true}).Stream(ctx)
}

// CompileAndRun builds and runs the scraper in a single pod.
func (e *Executor) CompileAndRun(ctx context.Context, req *executor.Request, events chan<- executor.Event) (int, error) {
	scratch, err := executor.PrepareScratch(req.RepoPath, req.Language, e.cfg.ScratchRoot)
	if err != nil {
		return -1, err
	}
	defer os.RemoveAll(scratch)

	spec := e.cfg.Spec(req, scratch)
	name := podName(spec.Name)

	log.Info("creating kubernetes pod", "image", spec.Image, "pod", name)

	if _, err := e.backend.Create(ctx, e.pod(name, spec), metav1.CreateOptions{}); err != nil {
		return -1, fmt.Errorf("failed to create pod %s: %w", name, err)
	}
	defer func() {
		err := e.backend.Delete(context.WithoutCancel(ctx), name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			log.Error("delete kubernetes pod", "pod", name, "error", err)
		}
	}()

	pod, err := e.poll(ctx, name, started)
	if err != nil {
		return -1, err
	}

	if pod.Status.PodIP != "" {
		executor.Send(ctx, events, executor.IPAddress{Addr: pod.Status.PodIP})
	}

	logs, err := e.logStream(ctx, name)
	if err != nil {
		return -1, fmt.Errorf("failed to stream logs of %s: %w", name, err)
	}
	defer logs.Close()

	wait := func() (int, error) {
		pod, err := e.poll(ctx, name, finished)
		if apierrors.IsNotFound(err) {
			// deleted by Stop
			log.Info("kubernetes pod deleted before exiting", "pod", name)
			return deletedExitCode, nil
		}
		if err != nil {
			return -1, err
		}
		return exitCode(pod)
	}

	code, err := e.cfg.Limiter().Run(logs, nil, wait, executor.Forward(ctx, events))
	if err != nil {
		return -1, err
	}

	log.Info("kubernetes pod exited", "pod", name, "status_code", code)

	return code, nil
}

// Stop deletes the named pod.
func (e *Executor) Stop(ctx context.Context, name string) error {
	log.Info("stopping kubernetes pod", "pod", podName(name))

	grace := int64(e.cfg.StopTimeout.Seconds())
	err := e.backend.Delete(ctx, podName(name), metav1.DeleteOptions{GracePeriodSeconds: &grace})
	if apierrors.IsNotFound(err) {
		return executor.ErrNotFound
	}
	return err
}

// ContainerExists reports whether the named pod exists.
func (e *Executor) ContainerExists(ctx context.Context, name string) (bool, error) {
	_, err := e.backend.Get(ctx, podName(name), metav1.GetOptions{})
	switch {
	case err == nil:
		return true, nil
	case apierrors.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func (e *Executor) poll(ctx context.Context, name string, done func(*v1.Pod) (bool, error)) (*v1.Pod, error) {
	interval := e.cfg.PollInterval
	if interval <= 0 {
		interval = executor.DefaultPollInterval
	}

	var pod *v1.Pod
	err := wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
		p, err := e.backend.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		pod = p
		return done(p)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch pod %s: %w", name, err)
	}
	return pod, nil
}

func (e *Executor) pod(name string, spec container.Spec) *v1.Pod {
	hostPath := v1.HostPathDirectory

	var (
		volumes []v1.Volume
		mounts  []v1.VolumeMount
	)
	for i, mnt := range spec.BindMounts() {
		volume := fmt.Sprintf("mount-%d", i)
		switch mnt.Target {
		case executor.AppPath:
			volume = appVolume
		case executor.DataPath:
			volume = dataVolume
		}
		volumes = append(volumes, v1.Volume{
			Name: volume,
			VolumeSource: v1.VolumeSource{
				HostPath: &v1.HostPathVolumeSource{Path: mnt.Source, Type: &hostPath},
			},
		})
		mounts = append(mounts, v1.VolumeMount{
			Name:      volume,
			MountPath: mnt.Target,
			ReadOnly:  mnt.ReadOnly,
		})
	}

	return &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: e.namespace,
			Labels:    spec.Labels,
		},
		Spec: v1.PodSpec{
			Containers: []v1.Container{
				{
					Name:            "scraper",
					Image:           spec.Image,
					Command:         spec.Command,
					Env:             envVars(spec.Env),
					WorkingDir:      spec.WorkDir,
					VolumeMounts:    mounts,
					ImagePullPolicy: v1.PullIfNotPresent,
				},
			},
			Volumes:       volumes,
			RestartPolicy: v1.RestartPolicyNever,
		},
	}
}

// waitingFailures are container waiting reasons the pod will
// never recover from on its own.
var waitingFailures = map[string]bool{
	"ErrImagePull":               true,
	"ImagePullBackOff":           true,
	"InvalidImageName":           true,
	"CreateContainerConfigError": true,
	"CreateContainerError":       true,
}

func started(p *v1.Pod) (bool, error) {
	// an empty phase has not been observed by the kubelet yet
	if p.Status.Phase != v1.PodPending && p.Status.Phase != "" {
		return true, nil
	}
	for _, status := range p.Status.ContainerStatuses {
		if w := status.State.Waiting; w != nil && waitingFailures[w.Reason] {
			return false, fmt.Errorf("%s: %s", w.Reason, w.Message)
		}
	}
	return false, nil
}

func finished(p *v1.Pod) (bool, error) {
	return p.Status.Phase == v1.PodSucceeded || p.Status.Phase == v1.PodFailed, nil
}

func envVars(env map[string]string) []v1.EnvVar {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vars := make([]v1.EnvVar, 0, len(keys))
	for _, k := range keys {
		vars = append(vars, v1.EnvVar{Name: k, Value: env[k]})
	}
	return vars
}

func exitCode(pod *v1.Pod) (int, error) {
	for _, status := range pod.Status.ContainerStatuses {
		if t := status.State.Terminated; t != nil {
			return int(t.ExitCode), nil
		}
	}
	return -1, fmt.Errorf("pod %s finished without a terminated container", pod.Name)
}
