package recluster

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/driftwatch/pkg/models"
)

// NoiseLabel marks points the clustering algorithm could not place.
const NoiseLabel = -1

// Point is one working-set record handed to the clustering algorithm.
// OriginalCluster is 0 for items that were unassigned when gathered.
type Point struct {
	ID              int64         `json:"id"`
	Embedding       models.Vector `json:"embedding"`
	OriginalCluster int64         `json:"original_cluster"`
}

// Label is the algorithm's verdict for one point. Confidence is optional;
// absent means the caller's default applies.
type Label struct {
	ID         int64    `json:"id"`
	NewCluster int      `json:"new_cluster"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Params tunes a density-based clustering fit.
type Params struct {
	MinClusterSize int
	MinSamples     int
}

// Algorithm computes sub-cluster labels over a working set of embeddings.
type Algorithm interface {
	Fit(ctx context.Context, points []Point, params Params) ([]Label, error)
}

// SubprocessAlgorithm shells out to an external clustering command.
// Points go in as JSONL, labels come back as JSONL. A hard timeout
// bounds the whole invocation; timeout or non-zero exit fails the fit.
type SubprocessAlgorithm struct {
	Binary  string
	Args    []string
	Timeout time.Duration
}

// Fit implements Algorithm via the external binary.
func (a *SubprocessAlgorithm) Fit(ctx context.Context, points []Point, params Params) ([]Label, error) {
	dir, err := os.MkdirTemp("", "driftwatch-fit-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "points.jsonl")
	outputPath := filepath.Join(dir, "labels.jsonl")
	if err := writeJSONL(inputPath, points); err != nil {
		return nil, fmt.Errorf("write points: %w", err)
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{}, a.Args...)
	args = append(args,
		"--input", inputPath,
		"--output", outputPath,
		"--min-cluster-size", fmt.Sprint(params.MinClusterSize),
		"--min-samples", fmt.Sprint(params.MinSamples),
	)
	cmd := exec.CommandContext(ctx, a.Binary, args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("clustering subprocess timed out after %s", timeout)
		}
		return nil, fmt.Errorf("clustering subprocess: %w", err)
	}

	labels, err := readLabels(outputPath)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return labels, nil
}

func writeJSONL(path string, points []Point) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, p := range points {
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	return w.Flush()
}

func readLabels(path string) ([]Label, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var labels []Label
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var l Label
		if err := json.Unmarshal(line, &l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, scanner.Err()
}
