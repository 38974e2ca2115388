package kubernetes

import (
	"regexp"
	"strings"

	corev1 "k8s.io/client-go/kubernetes/typed/core/v1"
)

type kubernetesBackend interface {
	corev1.PodInterface
}

const kubeConfig = ".kube/config"

// deletedExitCode is reported for a pod deleted while running. Its
// container is sent SIGTERM.
const deletedExitCode = 128 + 15

const (
	appVolume  = "app"
	dataVolume = "data"
)

var invalidName = regexp.MustCompile(`[^a-z0-9-]+`)

// podName converts a container name into a valid DNS-1123
// label.
func podName(name string) string {
	n := invalidName.ReplaceAllString(strings.ToLower(name), "-")
	if len(n) > 63 {
		n = n[:63]
	}
	return strings.Trim(n, "-")
}
