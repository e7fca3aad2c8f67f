// Package engine adapts the container-engine socket (§6): container
// discovery, its label/lifecycle event stream, and exec-in-container for
// running the registry's garbage collector. It is an event source and a
// command sink only — no image or registry awareness lives here.
//
// Grounded on github.com/docker/docker/client, the same package
// GoogleCloudPlatform-prometheus-engine's e2e/kind harness uses for
// ContainerExecCreate/Attach/Start/Inspect and ContainerInspect.
package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"
)

// Container is the engine-reported view of one running container.
type Container struct {
	ID      string
	Name    string
	Labels  map[string]string
	Address string // best-effort IP from any attached network, used when no static "network" is configured
}

// EventKind classifies a lifecycle event this package surfaces.
type EventKind int

const (
	EventStart EventKind = iota
	EventStop
	EventDestroy
	EventUpdate
)

// Event is one container lifecycle notification.
type Event struct {
	Kind      EventKind
	Container Container
}

// Client wraps the docker engine API client.
type Client struct {
	docker *dockerclient.Client
}

// New connects to the engine socket using the standard DOCKER_HOST /
// default-socket environment resolution.
func New() (*Client, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("engine: connect: %w", err)
	}
	return &Client{docker: cli}, nil
}

func firstAddress(networks map[string]*types.EndpointSettings) string {
	for _, n := range networks {
		if n != nil && n.IPAddress != "" {
			return n.IPAddress
		}
	}
	return ""
}

// ListContainers performs a full scan of running containers. Used at
// startup to synthesize start events for everything already running (§4.6).
func (c *Client) ListContainers(ctx context.Context) ([]Container, error) {
	containers, err := c.docker.ContainerList(ctx, types.ContainerListOptions{})
	if err != nil {
		return nil, fmt.Errorf("engine: list containers: %w", err)
	}

	out := make([]Container, 0, len(containers))
	for _, ctr := range containers {
		name := ctr.ID
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		var networks map[string]*types.EndpointSettings
		if ctr.NetworkSettings != nil {
			networks = ctr.NetworkSettings.Networks
		}
		out = append(out, Container{
			ID:      ctr.ID,
			Name:    name,
			Labels:  ctr.Labels,
			Address: firstAddress(networks),
		})
	}
	return out, nil
}

// Inspect resolves a single container's current labels/address, used to
// hydrate a container.update event with the new label set.
func (c *Client) Inspect(ctx context.Context, id string) (Container, error) {
	info, err := c.docker.ContainerInspect(ctx, id)
	if err != nil {
		return Container{}, fmt.Errorf("engine: inspect %s: %w", id, err)
	}
	var networks map[string]*types.EndpointSettings
	if info.NetworkSettings != nil {
		networks = info.NetworkSettings.Networks
	}
	var labels map[string]string
	if info.Config != nil {
		labels = info.Config.Labels
	}
	return Container{
		ID:      info.ID,
		Name:    strings.TrimPrefix(info.Name, "/"),
		Labels:  labels,
		Address: firstAddress(networks),
	}, nil
}

// Events streams container lifecycle events on the returned channel until
// ctx is cancelled or the underlying connection drops. Callers needing a
// reconnecting subscription should use Subscribe instead.
func (c *Client) Events(ctx context.Context) (<-chan Event, <-chan error) {
	out := make(chan Event)
	errs := make(chan error, 1)

	f := filters.NewArgs()
	f.Add("type", "container")
	msgs, errCh := c.docker.Events(ctx, types.EventsOptions{Filters: f})

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errCh:
				if !ok {
					return
				}
				if err != nil {
					errs <- err
					return
				}
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				kind, ok := classify(msg)
				if !ok {
					continue
				}
				out <- Event{
					Kind: kind,
					Container: Container{
						ID:     msg.Actor.ID,
						Name:   strings.TrimPrefix(msg.Actor.Attributes["name"], "/"),
						Labels: msg.Actor.Attributes,
					},
				}
			}
		}
	}()
	return out, errs
}

func classify(msg events.Message) (EventKind, bool) {
	switch msg.Action {
	case "start":
		return EventStart, true
	case "stop", "die":
		return EventStop, true
	case "destroy":
		return EventDestroy, true
	case "update", "rename":
		return EventUpdate, true
	default:
		return 0, false
	}
}

// Subscribe wraps Events with the reconnect-with-exponential-backoff
// behavior §7 requires for Engine-IO failures: the event stream is
// resubscribed with a capped backoff, and the caller keeps running with
// its last-known instance set during the outage.
func (c *Client) Subscribe(ctx context.Context, onErr func(error)) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		backoff := time.Second
		const maxBackoff = 30 * time.Second
		for {
			evCh, errCh := c.Events(ctx)
			drained := false
			for !drained {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-evCh:
					if !ok {
						drained = true
						continue
					}
					out <- ev
					backoff = time.Second
				case err := <-errCh:
					if onErr != nil {
						onErr(err)
					}
					drained = true
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}()
	return out
}

// Exec runs cmd inside the target container and returns an error if the
// process exits non-zero, mirroring GoogleCloudPlatform-prometheus-engine's
// e2e/kind dockerExec helper (ExecCreate → Attach → Start → Inspect).
func (c *Client) Exec(ctx context.Context, containerID string, cmd []string) error {
	created, err := c.docker.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("engine: exec create: %w", err)
	}

	attach, err := c.docker.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return fmt.Errorf("engine: exec attach: %w", err)
	}
	defer attach.Close()

	if err := c.docker.ContainerExecStart(ctx, created.ID, types.ExecStartCheck{}); err != nil {
		return fmt.Errorf("engine: exec start: %w", err)
	}

	output, _ := io.ReadAll(attach.Reader)

	info, err := c.docker.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return fmt.Errorf("engine: exec inspect: %w", err)
	}
	if info.ExitCode != 0 {
		return fmt.Errorf("engine: exec exited %d: %s", info.ExitCode, strings.TrimSpace(string(output)))
	}
	return nil
}

// Close releases the underlying engine connection.
func (c *Client) Close() error {
	return c.docker.Close()
}
