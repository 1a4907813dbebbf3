package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
)

// BuildOptions carries the parameters for building a customer image.
type BuildOptions struct {
	Tag       string
	BuildArgs map[string]string
}

// buildMessage is one JSON message of the daemon's build output stream.
type buildMessage struct {
	Stream string `json:"stream"`
	Error  string `json:"error"`
	Aux    struct {
		ID string `json:"ID"`
	} `json:"aux"`
}

// BuildImage builds an image from a tar build context. Every output line is
// passed to onLine as it arrives so callers can persist build logs
// incrementally. Returns the built image ID.
func (r *DockerRuntime) BuildImage(ctx context.Context, buildContext io.Reader, opts BuildOptions, onLine func(string)) (string, error) {
	args := make(map[string]*string, len(opts.BuildArgs))
	for k, v := range opts.BuildArgs {
		value := v
		args[k] = &value
	}

	resp, err := r.docker.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:        []string{opts.Tag},
		BuildArgs:   args,
		Remove:      true,
		ForceRemove: true,
		NoCache:     false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start image build: %w", err)
	}
	defer resp.Body.Close()

	var imageID string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg buildMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return "", fmt.Errorf("build failed: %s", msg.Error)
		}
		if msg.Aux.ID != "" {
			imageID = msg.Aux.ID
		}
		if line := strings.TrimRight(msg.Stream, "\n"); line != "" && onLine != nil {
			onLine(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read build output: %w", err)
	}

	if imageID == "" {
		// Older daemons omit the aux message; resolve the tag instead.
		info, _, err := r.docker.ImageInspectWithRaw(ctx, opts.Tag)
		if err != nil {
			return "", fmt.Errorf("build finished but image %s not found: %w", opts.Tag, err)
		}
		imageID = info.ID
	}
	return imageID, nil
}

// Stats reads one resource usage sample for a running container.
func (r *DockerRuntime) Stats(ctx context.Context, id string) (*StatsSample, error) {
	resp, err := r.docker.ContainerStats(ctx, id, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}

	sample := &StatsSample{
		MemoryBytes:  int64(stats.MemoryStats.Usage),
		ProcessCount: int(stats.PidsStats.Current),
	}

	// CPU percentage over the sampling window, matching the docker CLI math.
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	if sysDelta > 0 && cpuDelta >= 0 {
		online := float64(stats.CPUStats.OnlineCPUs)
		if online == 0 {
			online = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
		}
		sample.CPUPercent = cpuDelta / sysDelta * online * 100.0
	}

	for _, nw := range stats.Networks {
		sample.NetworkRxB += int64(nw.RxBytes)
		sample.NetworkTxB += int64(nw.TxBytes)
	}
	for _, entry := range stats.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(entry.Op) {
		case "read":
			sample.BlockReadB += int64(entry.Value)
		case "write":
			sample.BlockWriteB += int64(entry.Value)
		}
	}
	return sample, nil
}
