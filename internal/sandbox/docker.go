package sandbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// ManagedLabel marks containers created by this engine.
const ManagedLabel = "shellbox.managed"

// OwnerLabel records the owner a container was provisioned for.
const OwnerLabel = "shellbox.owner"

// ManagedContainer is a container carrying ManagedLabel.
type ManagedContainer struct {
	ID      string
	Name    string
	Owner   string
	State   string
	Created time.Time
}

// containerAPI is the slice of the engine API the Engine consumes.
type containerAPI interface {
	Create(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error)
	Start(ctx context.Context, id string) error
	Exec(ctx context.Context, id string, cmd []string) (io.ReadCloser, error)
	Stop(ctx context.Context, id string, timeoutSeconds int) error
	Remove(ctx context.Context, id string) error
	Stats(ctx context.Context, id string) (io.ReadCloser, error)
	ListManaged(ctx context.Context) ([]ManagedContainer, error)
	Ping(ctx context.Context) error
	Close() error
}

// dockerAPI implements containerAPI on top of the Docker Engine SDK.
type dockerAPI struct {
	cli *client.Client
}

func newDockerAPI(host string) (*dockerAPI, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &dockerAPI{cli: cli}, nil
}

func (d *dockerAPI) Create(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *dockerAPI) Start(ctx context.Context, id string) error {
	return d.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (d *dockerAPI) Exec(ctx context.Context, id string, cmd []string) (io.ReadCloser, error) {
	execResp, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}

	return &hijackedStream{Reader: attachResp.Reader, close: attachResp.Close}, nil
}

func (d *dockerAPI) Stop(ctx context.Context, id string, timeoutSeconds int) error {
	return d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeoutSeconds})
}

func (d *dockerAPI) Remove(ctx context.Context, id string) error {
	return d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (d *dockerAPI) Stats(ctx context.Context, id string) (io.ReadCloser, error) {
	stats, err := d.cli.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return nil, err
	}
	return stats.Body, nil
}

func (d *dockerAPI) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedLabel+"=true")),
	})
	if err != nil {
		return nil, err
	}

	result := make([]ManagedContainer, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		result = append(result, ManagedContainer{
			ID:      c.ID,
			Name:    name,
			Owner:   c.Labels[OwnerLabel],
			State:   c.State,
			Created: time.Unix(c.Created, 0),
		})
	}
	return result, nil
}

func (d *dockerAPI) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *dockerAPI) Close() error {
	return d.cli.Close()
}

// hijackedStream adapts a hijacked exec connection to io.ReadCloser.
type hijackedStream struct {
	io.Reader
	close func()
}

func (h *hijackedStream) Close() error {
	h.close()
	return nil
}
