// Package inference runs the external object detector and reads back its labels.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// Result of one detection run
type Result struct {
	Detections domain.Detections
	// AnnotatedPath is the image with boxes drawn, empty when the detector wrote none
	AnnotatedPath string
	// RunDir holds every file the run produced
	RunDir string
}

// Detector turns a local image into detections
type Detector interface {
	Detect(ctx context.Context, imagePath, runName string) (*Result, error)
}

// CommandConfig describes the detector command line.
// Args may contain {source}, {project}, {name} and {data} placeholders.
type CommandConfig struct {
	Command    string
	Args       []string
	WorkingDir string
	ProjectDir string
	DataFile   string
	ClassNames []string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// CommandDetector runs a YOLO-style detect command that writes
// <project>/<name>/<image> and <project>/<name>/labels/<stem>.txt
type CommandDetector struct {
	cfg CommandConfig
}

// NewCommandDetector creates a detector around an external command
func NewCommandDetector(cfg CommandConfig) (*CommandDetector, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("detector command is required")
	}
	if len(cfg.ClassNames) == 0 {
		return nil, fmt.Errorf("detector class names are required")
	}
	return &CommandDetector{cfg: cfg}, nil
}

// Detect runs the command for one image. The run directory is removed when the
// run fails; on success the caller owns Result.RunDir.
func (d *CommandDetector) Detect(ctx context.Context, imagePath, runName string) (*Result, error) {
	if runName == "" || runName == "." || runName == ".." || runName != filepath.Base(runName) {
		return nil, fmt.Errorf("invalid run name: %q", runName)
	}

	source, err := filepath.Abs(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image path: %w", err)
	}
	project, err := filepath.Abs(d.cfg.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project dir: %w", err)
	}
	runDir := filepath.Join(project, runName)

	result, err := d.run(ctx, source, project, runDir, runName)
	if err != nil {
		if rmErr := os.RemoveAll(runDir); rmErr != nil {
			d.cfg.Logger.Warn("Failed to remove run dir",
				slog.String("path", runDir),
				slog.Any("error", rmErr),
			)
		}
		return nil, err
	}
	return result, nil
}

func (d *CommandDetector) run(ctx context.Context, source, project, runDir, runName string) (*Result, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	replacer := strings.NewReplacer(
		"{source}", source,
		"{project}", project,
		"{name}", runName,
		"{data}", d.cfg.DataFile,
	)
	args := make([]string, len(d.cfg.Args))
	for i, arg := range d.cfg.Args {
		args[i] = replacer.Replace(arg)
	}

	cmd := exec.CommandContext(ctx, d.cfg.Command, args...)
	cmd.Dir = d.cfg.WorkingDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("detector command failed: %w: %s", err, strings.TrimSpace(tail(stderr.String(), 512)))
	}

	d.cfg.Logger.Debug("Detector finished",
		slog.String("run", runName),
		slog.Duration("elapsed", time.Since(start)),
	)

	result := &Result{RunDir: runDir, Detections: domain.Detections{}}

	annotated := filepath.Join(runDir, filepath.Base(source))
	if _, err := os.Stat(annotated); err == nil {
		result.AnnotatedPath = annotated
	}

	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	labels, err := os.Open(filepath.Join(runDir, "labels", stem+".txt"))
	if errors.Is(err, os.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer labels.Close()

	result.Detections, err = ParseLabels(labels, d.cfg.ClassNames)
	if err != nil {
		return nil, fmt.Errorf("failed to parse labels: %w", err)
	}
	return result, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
