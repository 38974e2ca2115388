package docker

import (
	"context"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/dyet92k/morph/internal/executor"
	"github.com/dyet92k/morph/internal/language"
	"github.com/dyet92k/morph/internal/stream"
	"github.com/dyet92k/morph/internal/testutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (s *DockerTestSuite) request() *executor.Request {
	repo := s.T().TempDir()
	testutil.WriteFiles(s.T(), repo, map[string]string{"scraper.py": "print('hi')\n"})
	return &executor.Request{
		RepoPath:      repo,
		DataPath:      s.T().TempDir(),
		Env:           map[string]string{"MORPH_KEY": "value"},
		ContainerName: testContainerName,
		Language:      language.Python,
	}
}

func (s *DockerTestSuite) run(req *executor.Request) (int, []executor.Event, error) {
	events := make(chan executor.Event)
	var (
		got []executor.Event
		wg  sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range events {
			got = append(got, e)
		}
	}()
	code, err := s.executor.CompileAndRun(context.Background(), req, events)
	close(events)
	wg.Wait()
	return code, got, err
}

func (s *DockerTestSuite) expectRun(code int) {
	s.backend.On("ImagePull", testImage).Return(nil)
	s.backend.On("ContainerRemove", testContainerName).Return(errNotFound)
	s.backend.On("ContainerCreate", mock.Anything, mock.Anything, testContainerName).Return(nil)
	s.backend.On("ContainerAttach", testContainerID).Return()
	s.backend.On("ContainerWait", testContainerID).Return(code, nil)
	s.backend.On("ContainerStart", testContainerID).Return(nil)
	s.backend.On("ContainerInspect", testContainerID).Return(nil)
	s.backend.On("ContainerRemove", testContainerID).Return(nil)
}

func (s *DockerTestSuite) TestCompileAndRun() {
	s.backend.output = mux("line1\nline2\n", "warn\n")
	s.expectRun(0)

	code, events, err := s.run(s.request())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 0, code)

	var stdout, stderr []string
	var addr string
	for _, e := range events {
		switch e := e.(type) {
		case executor.Log:
			if e.Stream == stream.Stdout {
				stdout = append(stdout, e.Text)
			} else {
				stderr = append(stderr, e.Text)
			}
		case executor.IPAddress:
			addr = e.Addr
		}
	}
	assert.Equal(s.T(), []string{"line1\n", "line2\n"}, stdout)
	assert.Equal(s.T(), []string{"warn\n"}, stderr)
	assert.Equal(s.T(), testIPAddress, addr)

	s.backend.AssertExpectations(s.T())

	create := s.backend.Calls[2]
	require.Equal(s.T(), "ContainerCreate", create.Method)
	cfg := create.Arguments.Get(0).(*dockercontainer.Config)
	assert.Equal(s.T(), testImage, cfg.Image)
	assert.Equal(s.T(), executor.DefaultCommand, []string(cfg.Cmd))
	assert.Equal(s.T(), []string{"MORPH_KEY=value"}, cfg.Env)
	assert.Equal(s.T(), testContainerName, cfg.Labels[executor.Label])
	host := create.Arguments.Get(1).(*dockercontainer.HostConfig)
	require.Len(s.T(), host.Mounts, 2)
	assert.Equal(s.T(), mount.TypeBind, host.Mounts[0].Type)
	assert.Equal(s.T(), executor.AppPath, host.Mounts[0].Target)
	assert.Equal(s.T(), executor.DataPath, host.Mounts[1].Target)
}

func (s *DockerTestSuite) TestCompileAndRunExitCode() {
	s.backend.output = mux("", "Traceback\n")
	s.expectRun(1)

	code, _, err := s.run(s.request())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, code)
}

func (s *DockerTestSuite) TestCompileAndRunPullError() {
	s.backend.On("ImagePull", testImage).Return(errors.New("manifest unknown"))

	_, _, err := s.run(s.request())
	assert.Error(s.T(), err)
	s.backend.AssertNotCalled(s.T(), "ContainerCreate", mock.Anything, mock.Anything, mock.Anything)
}

func (s *DockerTestSuite) TestCompileAndRunStartError() {
	s.backend.On("ImagePull", testImage).Return(nil)
	s.backend.On("ContainerRemove", testContainerName).Return(errNotFound)
	s.backend.On("ContainerCreate", mock.Anything, mock.Anything, testContainerName).Return(nil)
	s.backend.On("ContainerAttach", testContainerID).Return()
	s.backend.On("ContainerWait", testContainerID).Return(0, nil)
	s.backend.On("ContainerStart", testContainerID).Return(errors.New("port is already allocated"))
	s.backend.On("ContainerRemove", testContainerID).Return(nil)

	_, _, err := s.run(s.request())
	assert.Error(s.T(), err)
	s.backend.AssertExpectations(s.T())
}

func (s *DockerTestSuite) TestCompileAndRunWaitError() {
	s.backend.On("ImagePull", testImage).Return(nil)
	s.backend.On("ContainerRemove", testContainerName).Return(errNotFound)
	s.backend.On("ContainerCreate", mock.Anything, mock.Anything, testContainerName).Return(nil)
	s.backend.On("ContainerAttach", testContainerID).Return()
	s.backend.On("ContainerWait", testContainerID).Return(0, errors.New("daemon went away"))
	s.backend.On("ContainerStart", testContainerID).Return(nil)
	s.backend.On("ContainerInspect", testContainerID).Return(nil)
	s.backend.On("ContainerRemove", testContainerID).Return(nil)

	_, _, err := s.run(s.request())
	assert.EqualError(s.T(), err, "daemon went away")
}

func (s *DockerTestSuite) TestStop() {
	s.executor.cfg.StopTimeout = 10 * time.Second
	s.backend.On("ContainerStop", testContainerName, 10).Return(nil)
	assert.NoError(s.T(), s.executor.Stop(context.Background(), testContainerName))

	s.backend.On("ContainerStop", "gone", 10).Return(errNotFound)
	assert.ErrorIs(s.T(), s.executor.Stop(context.Background(), "gone"), executor.ErrNotFound)
}

func (s *DockerTestSuite) TestContainerExists() {
	s.backend.On("ContainerInspect", testContainerName).Return(nil)
	s.backend.On("ContainerInspect", "gone").Return(errNotFound)
	s.backend.On("ContainerInspect", "broken").Return(errors.New("daemon unavailable"))

	exists, err := s.executor.ContainerExists(context.Background(), testContainerName)
	assert.NoError(s.T(), err)
	assert.True(s.T(), exists)

	exists, err = s.executor.ContainerExists(context.Background(), "gone")
	assert.NoError(s.T(), err)
	assert.False(s.T(), exists)

	_, err = s.executor.ContainerExists(context.Background(), "broken")
	assert.Error(s.T(), err)
}
