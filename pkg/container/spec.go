package container

import "sort"

// MountType enumerates supported mount driver types.
type MountType string

const (
	// MountTypeBind represents a bind mount from the host filesystem.
	MountTypeBind MountType = "bind"
)

// Mount describes a filesystem mount to inject into a container.
type Mount struct {
	Type     MountType `json:"type" yaml:"type"`
	Source   string    `json:"source" yaml:"source"`
	Target   string    `json:"target" yaml:"target"`
	ReadOnly bool      `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

// Spec captures shared container runtime knobs regardless of engine.
type Spec struct {
	Name    string            `json:"name" yaml:"name"`
	Image   string            `json:"image" yaml:"image"`
	Command []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Labels  map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	WorkDir string            `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	Mounts  []Mount           `json:"mounts,omitempty" yaml:"mounts,omitempty"`
}

// HasEnv reports whether any environment variables are defined.
func (s Spec) HasEnv() bool {
	return len(s.Env) > 0
}

// HasMounts reports whether any mounts are defined.
func (s Spec) HasMounts() bool {
	return len(s.Mounts) > 0
}

// EnvList formats Env as sorted KEY=value pairs.
func (s Spec) EnvList() []string {
	if !s.HasEnv() {
		return nil
	}
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}

// BindMounts returns the usable bind mounts. Mounts missing
// a source or target are dropped.
func (s Spec) BindMounts() []Mount {
	if !s.HasMounts() {
		return nil
	}
	result := make([]Mount, 0, len(s.Mounts))
	for _, mnt := range s.Mounts {
		if mnt.Source == "" || mnt.Target == "" {
			continue
		}
		if mnt.Type == MountTypeBind || mnt.Type == "" {
			mnt.Type = MountTypeBind
			result = append(result, mnt)
		}
	}
	return result
}
