package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// Artifact is the deployable unit: either an archive on disk or a pushed
// image reference, plus its measured size. Produced once, never mutated.
type Artifact struct {
	Path     string
	ImageURI string
	Size     int64
}

// Builder produces and verifies deployment artifacts. The orchestrator
// treats it as opaque, no retry or backoff wraps it.
type Builder interface {
	Produce(ctx context.Context) (*Artifact, error)
	Verify(artifact *Artifact) error
}

// ZipBuilder stages the configured source files, installs python
// dependencies next to them when a requirements file exists, and zips the
// result.
type ZipBuilder struct {
	SourceDir   string
	OutputDir   string
	PackageName string
	SourceFiles []string
	Handler     string
	Runtime     string
}

func (b *ZipBuilder) packagePath() string {
	return filepath.Join(b.OutputDir, b.PackageName)
}

func (b *ZipBuilder) Produce(ctx context.Context) (*Artifact, error) {
	stageDir := filepath.Join(b.OutputDir, "build", "package")
	err := os.RemoveAll(filepath.Join(b.OutputDir, "build"))
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	err = os.MkdirAll(stageDir, os.ModePerm)
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	requirements := filepath.Join(b.SourceDir, "requirements.txt")
	if Exists(requirements) {
		err = shell("python3 -m pip install -r %s --target %s --no-cache-dir --quiet", requirements, stageDir)
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
		Logger.Println("installed dependencies from:", requirements)
	}
	for _, file := range b.SourceFiles {
		src := filepath.Join(b.SourceDir, file)
		if !Exists(src) {
			err := fmt.Errorf("source file not found: %s", src)
			Logger.Println("error:", err)
			return nil, err
		}
		err = shell("cp -r %s %s/", src, stageDir)
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
	}
	zipPath, err := filepath.Abs(b.packagePath())
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	_ = os.Remove(zipPath)
	err = shellAt(stageDir, "zip -9 -r -q %s .", zipPath)
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	info, err := os.Stat(zipPath)
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	Logger.Println("built package:", zipPath, humanize.Bytes(uint64(info.Size())))
	return &Artifact{Path: zipPath, Size: info.Size()}, nil
}

func (b *ZipBuilder) Verify(artifact *Artifact) error {
	return PackageValidate(artifact.Path, b.Handler, b.Runtime)
}
