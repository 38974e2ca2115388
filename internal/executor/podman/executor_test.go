package podman

import (
	"context"
	"sync"
	"time"

	"github.com/containers/podman/v5/pkg/specgen"
	"github.com/dyet92k/morph/internal/executor"
	"github.com/dyet92k/morph/internal/language"
	"github.com/dyet92k/morph/internal/stream"
	"github.com/dyet92k/morph/internal/testutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (s *PodmanTestSuite) request() *executor.Request {
	repo := s.T().TempDir()
	testutil.WriteFiles(s.T(), repo, map[string]string{"scraper.js": "console.log('hi')\n"})
	return &executor.Request{
		RepoPath:      repo,
		DataPath:      s.T().TempDir(),
		Env:           map[string]string{"MORPH_KEY": "value"},
		ContainerName: testContainerName,
		Language:      language.NodeJS,
	}
}

func (s *PodmanTestSuite) run(req *executor.Request) (int, []executor.Event, error) {
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

func (s *PodmanTestSuite) TestCompileAndRun() {
	s.backend.stdout = "line1\nline2\n"
	s.backend.stderr = "npm warn\n"

	s.backend.On("ImagePull", testImage).Return(nil)
	s.backend.On("ContainerExists", testContainerName).Return(true, nil)
	s.backend.On("ContainerRemove", testContainerName).Return(nil)
	s.backend.On("ContainerCreate", mock.Anything).Return(testContainerID, nil)
	s.backend.On("ContainerAttach", testContainerID).Return(nil)
	s.backend.On("ContainerStart", testContainerID).Return(nil)
	s.backend.On("ContainerInspect", testContainerID).Return(nil)
	s.backend.On("ContainerWait", testContainerID).Return(0, nil)
	s.backend.On("ContainerRemove", testContainerID).Return(nil)

	code, events, err := s.run(s.request())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 0, code)

	var stdout, stderr []string
	for _, e := range events {
		if l, ok := e.(executor.Log); ok {
			if l.Stream == stream.Stdout {
				stdout = append(stdout, l.Text)
			} else {
				stderr = append(stderr, l.Text)
			}
		}
	}
	assert.Equal(s.T(), []string{"line1\n", "line2\n"}, stdout)
	assert.Equal(s.T(), []string{"npm warn\n"}, stderr)
	assert.Contains(s.T(), events, executor.Event(executor.IPAddress{Addr: testIPAddress}))
	s.backend.AssertExpectations(s.T())

	var spec *specgen.SpecGenerator
	for _, call := range s.backend.Calls {
		if call.Method == "ContainerCreate" {
			spec = call.Arguments.Get(0).(*specgen.SpecGenerator)
		}
	}
	require.NotNil(s.T(), spec)
	assert.Equal(s.T(), testContainerName, spec.Name)
	assert.Equal(s.T(), executor.DefaultCommand, spec.Command)
	assert.Equal(s.T(), "value", spec.Env["MORPH_KEY"])
	assert.Equal(s.T(), executor.AppPath, spec.WorkDir)
	require.Len(s.T(), spec.Mounts, 2)
	assert.Equal(s.T(), executor.AppPath, spec.Mounts[0].Destination)
	assert.Equal(s.T(), executor.DataPath, spec.Mounts[1].Destination)
}

func (s *PodmanTestSuite) TestCompileAndRunExitCode() {
	s.backend.On("ImagePull", testImage).Return(nil)
	s.backend.On("ContainerExists", testContainerName).Return(false, nil)
	s.backend.On("ContainerCreate", mock.Anything).Return(testContainerID, nil)
	s.backend.On("ContainerAttach", testContainerID).Return(nil)
	s.backend.On("ContainerStart", testContainerID).Return(nil)
	s.backend.On("ContainerInspect", testContainerID).Return(errors.New("no network"))
	s.backend.On("ContainerWait", testContainerID).Return(2, nil)
	s.backend.On("ContainerRemove", testContainerID).Return(nil)

	code, events, err := s.run(s.request())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 2, code)
	assert.Empty(s.T(), events)
}

func (s *PodmanTestSuite) TestCompileAndRunAttachError() {
	s.backend.On("ImagePull", testImage).Return(nil)
	s.backend.On("ContainerExists", testContainerName).Return(false, nil)
	s.backend.On("ContainerCreate", mock.Anything).Return(testContainerID, nil)
	s.backend.On("ContainerAttach", testContainerID).Return(errors.New("attach refused"))
	s.backend.On("ContainerRemove", testContainerID).Return(nil)

	_, _, err := s.run(s.request())
	assert.EqualError(s.T(), err, "attach refused")
	s.backend.AssertNotCalled(s.T(), "ContainerStart", testContainerID)
}

func (s *PodmanTestSuite) TestCompileAndRunPullError() {
	s.backend.On("ImagePull", testImage).Return(errors.New("unauthorized"))

	_, _, err := s.run(s.request())
	assert.Error(s.T(), err)
	s.backend.AssertNotCalled(s.T(), "ContainerCreate", mock.Anything)
}

func (s *PodmanTestSuite) TestStop() {
	s.executor.cfg.StopTimeout = 5 * time.Second
	s.backend.On("ContainerExists", testContainerName).Return(true, nil)
	s.backend.On("ContainerStop", testContainerName, uint(5)).Return(nil)
	assert.NoError(s.T(), s.executor.Stop(context.Background(), testContainerName))

	s.backend.On("ContainerExists", "gone").Return(false, nil)
	assert.ErrorIs(s.T(), s.executor.Stop(context.Background(), "gone"), executor.ErrNotFound)
}

func (s *PodmanTestSuite) TestContainerExists() {
	s.backend.On("ContainerExists", testContainerName).Return(true, nil)
	exists, err := s.executor.ContainerExists(context.Background(), testContainerName)
	assert.NoError(s.T(), err)
	assert.True(s.T(), exists)
}
