package pool

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"mitchell-agent/agent/worker"
	"mitchell-agent/errors"
	"mitchell-agent/logger"
)

// processRuntime is the default SpawnRuntime: the Worker's Driver
// launches its own local browser process directly, so there is nothing
// to prepare or tear down beyond what worker.Start/Stop already do.
type processRuntime struct{}

func (processRuntime) Prepare(ctx context.Context, w *worker.Worker) (int, error) {
	return w.Port, nil
}

func (processRuntime) Teardown(w *worker.Worker) {}

// containerRuntime runs each Worker's browser inside a dedicated Docker
// container instead of a local OS process, selected by
// MITCHELL_POOL_RUNTIME=docker. It mirrors browser_pool.BrowserPoolManager's
// ping-then-degrade pattern: if the Docker daemon is unreachable at
// construction, NewContainerRuntime returns a processRuntime instead so
// the pool still starts.
type containerRuntime struct {
	docker      *client.Client
	containerOf map[int]string
}

// NewContainerRuntime pings the Docker daemon and returns a
// container-backed runtime, or a process-backed runtime if Docker is
// unavailable (logged as a warning, not a fatal error).
func NewContainerRuntime() SpawnRuntime {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		docker, err = client.NewClientWithOpts(
			client.WithHost("unix:///var/run/docker.sock"),
			client.WithAPIVersionNegotiation(),
		)
	}
	if err != nil {
		logger.Warn("docker client unavailable, worker pool falling back to process runtime", zap.Error(err))
		return processRuntime{}
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := docker.Ping(pingCtx); err != nil {
		docker.Close()
		logger.Warn("docker daemon not responding, worker pool falling back to process runtime", zap.Error(err))
		return processRuntime{}
	}

	return &containerRuntime{docker: docker, containerOf: make(map[int]string)}
}

const (
	chromeDebugPort = "9222/tcp"
	containerImage  = "browserless/chrome:latest"
)

// Prepare starts a container publishing the Chrome DevTools port to a
// random host port, waits for it to answer, and returns that host port
// as the debug port the Worker's Driver should connect (not launch) to.
func (r *containerRuntime) Prepare(ctx context.Context, w *worker.Worker) (int, error) {
	cfg := &container.Config{
		Image:        containerImage,
		ExposedPorts: nat.PortSet{chromeDebugPort: {}},
	}
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:    2 * 1024 * 1024 * 1024,
			CPUShares: 1024,
		},
		AutoRemove:   true,
		PortBindings: nat.PortMap{chromeDebugPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "0"}}},
		Binds:        []string{fmt.Sprintf("%s:/data", w.ProfileDir)},
	}

	resp, err := r.docker.ContainerCreate(ctx, cfg, hostCfg, nil, nil, fmt.Sprintf("mitchell-worker-%d", w.ID))
	if err != nil {
		return 0, errors.E(errors.Internal, fmt.Errorf("create worker container: %w", err))
	}
	if err := r.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		r.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return 0, errors.E(errors.Internal, fmt.Errorf("start worker container: %w", err))
	}

	inspect, err := r.docker.ContainerInspect(ctx, resp.ID)
	if err != nil {
		r.destroy(resp.ID)
		return 0, errors.E(errors.Internal, err)
	}
	bindings := inspect.NetworkSettings.Ports[chromeDebugPort]
	if len(bindings) == 0 {
		r.destroy(resp.ID)
		return 0, errors.M(errors.Internal, "container published no debug port")
	}
	hostPort := bindings[0].HostPort

	if err := waitForContainerReady(hostPort); err != nil {
		r.destroy(resp.ID)
		return 0, err
	}

	r.containerOf[w.ID] = resp.ID
	var port int
	fmt.Sscanf(hostPort, "%d", &port)
	return port, nil
}

func (r *containerRuntime) Teardown(w *worker.Worker) {
	id, ok := r.containerOf[w.ID]
	if !ok {
		return
	}
	delete(r.containerOf, w.ID)
	r.destroy(id)
}

func (r *containerRuntime) destroy(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		logger.Error("worker container removal failed", zap.String("container_id", containerID), zap.Error(err))
	}
}

func waitForContainerReady(hostPort string) error {
	url := fmt.Sprintf("http://127.0.0.1:%s/json/version", hostPort)
	for i := 0; i < 30; i++ {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(1 * time.Second)
	}
	return errors.M(errors.ConnectionFailed, "timeout waiting for worker container devtools endpoint")
}
