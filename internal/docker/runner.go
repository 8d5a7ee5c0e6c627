package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"

	"github.com/scarfbench/scarf/internal/errs"
	"github.com/scarfbench/scarf/internal/eval"
)

// Paths inside the container.
const (
	AgentMount     = "/agent"
	WorkspaceMount = "/workspace"
)

type RunOpts struct {
	Image       string
	Command     []string
	WorkDir     string // container working directory
	Env         []string
	Timeout     time.Duration
	Mounts      []Mount
	Labels      map[string]string
	CPULimit    float64
	MemoryLimit int64
	UserID      string
	Stdout      io.Writer
	Stderr      io.Writer
}

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

type RunResult struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// RunContainer runs one container to completion, streams its demultiplexed
// output to opts.Stdout and opts.Stderr, and removes it. A zero timeout
// waits as long as ctx allows.
func RunContainer(ctx context.Context, opts *RunOpts) (*RunResult, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errs.Wrap(errs.ErrSpawn, err, "creating docker client")
	}
	defer cli.Close()

	mounts := make([]mount.Mount, 0, len(opts.Mounts))
	for _, m := range opts.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts: mounts,
		Init:   &initTrue,
	}
	if opts.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(opts.CPULimit * 1e9)
	}
	if opts.MemoryLimit > 0 {
		hostCfg.Memory = opts.MemoryLimit
	}

	labels := map[string]string{"scarf": "true"}
	for k, v := range opts.Labels {
		labels[k] = v
	}
	containerCfg := &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Command,
		Env:        opts.Env,
		WorkingDir: opts.WorkDir,
		Labels:     labels,
	}
	if opts.UserID != "" {
		containerCfg.User = opts.UserID
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrSpawn, err, "creating container from %s", opts.Image)
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, errs.Wrap(errs.ErrSpawn, err, "starting container")
	}

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	waitResult := cli.ContainerWait(waitCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err == nil {
				// nil error means no error on this channel; wait for result
				continue
			}
			cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
			copyLogs(cli, containerID, opts)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("container timed out", "container", containerID[:12], "timeout", opts.Timeout)
			return &RunResult{
				ExitCode: eval.ExitTimedOut,
				TimedOut: true,
				Duration: time.Since(start),
			}, nil
		case status := <-waitResult.Result:
			copyLogs(cli, containerID, opts)
			return &RunResult{
				ExitCode: int(status.StatusCode),
				Duration: time.Since(start),
			}, nil
		}
	}
}

func copyLogs(cli *client.Client, containerID string, opts *RunOpts) {
	if opts.Stdout == nil && opts.Stderr == nil {
		return
	}
	logReader, err := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		slog.Warn("reading container logs", "container", containerID, "error", err)
		return
	}
	defer logReader.Close()
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if _, err := stdcopy.StdCopy(stdout, stderr, logReader); err != nil {
		slog.Warn("demultiplexing container logs", "container", containerID, "error", err)
	}
}

// ContainerExecutor runs agents inside a container. The agent directory is
// mounted read-only at /agent and the instance output directory read-write
// at /workspace, which is also what SCARF_WORK_DIR points to.
type ContainerExecutor struct {
	Image       string
	CPULimit    float64
	MemoryLimit int64
	UserID      string
}

func (c ContainerExecutor) Exec(ctx context.Context, inv *eval.Invocation) (int, error) {
	if c.Image == "" {
		return -1, errs.Configf("no container image configured")
	}
	res, err := RunContainer(ctx, &RunOpts{
		Image:   c.Image,
		Command: []string{path.Join(AgentMount, inv.Entrypoint)},
		WorkDir: AgentMount,
		Env:     inv.Environ(WorkspaceMount),
		Timeout: inv.Timeout,
		Mounts: []Mount{
			{Source: inv.AgentDir, Target: AgentMount, ReadOnly: true},
			{Source: inv.OutputDir, Target: WorkspaceMount},
		},
		Labels:      map[string]string{"scarf.instance": inv.InstanceID},
		CPULimit:    c.CPULimit,
		MemoryLimit: c.MemoryLimit,
		UserID:      c.UserID,
		Stdout:      inv.Stdout,
		Stderr:      inv.Stderr,
	})
	if err != nil {
		return -1, fmt.Errorf("instance %s: %w", inv.InstanceID, err)
	}
	return res.ExitCode, nil
}
