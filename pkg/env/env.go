package env

import (
	"time"

	"github.com/dyet92k/morph/pkg/log"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

var variables = new(Environment)

// Process the environment variables set for morph.
func Process() error {
	if err := envconfig.Process("morph", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	// set the log level
	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used
// by morph.
type Environment struct {
	LogLevel            string        `split_words:"true" default:"info"`
	Port                int           `split_words:"true" default:"8080"`
	Engine              string        `split_words:"true" default:"docker"`
	Image               string        `split_words:"true" default:"openaustralia/buildstep:latest"`
	RunCommand          string        `split_words:"true" default:""`
	DataRoot            string        `split_words:"true" default:"db/scrapers/data"`
	RepoRoot            string        `split_words:"true" default:"db/scrapers/repos"`
	ScratchRoot         string        `split_words:"true" default:""` // os.TempDir
	StopTimeout         time.Duration `split_words:"true" default:"10s"`
	ReadSize            int           `split_words:"true" default:"128"`
	MaxLineSize         int           `split_words:"true" default:"1048576"`
	PollInterval        time.Duration `split_words:"true" default:"1s"`
	DatabaseType        string        `split_words:"true" default:"sqlite"`
	DatabaseDSN         string        `split_words:"true" default:"morph.db"`
	PodmanURI           string        `split_words:"true" default:"unix:///run/podman/podman.sock"`
	KubernetesConfig    string        `split_words:"true" default:""`
	KubernetesNamespace string        `split_words:"true" default:"default"`
	NatsURL             string        `split_words:"true" default:""`
	NatsSubject         string        `split_words:"true" default:"morph"`
	S3Bucket            string        `split_words:"true" default:""`
	S3Region            string        `split_words:"true" default:"us-east-1"`
	S3Endpoint          string        `split_words:"true" default:""`
}
