package lib

import (
	"context"
	"fmt"
)

// ContainerBuilder builds the function image with docker and pushes it to
// the registry. The build itself is local, the push is held back while
// previewing.
type ContainerBuilder struct {
	Dockerfile string
	Context    string
	ImageURI   string
	Platform   string
	BuildArgs  map[string]string
	Auth       *EcrAuth
	Preview    bool
}

func (b *ContainerBuilder) buildArgFlags() string {
	flags := ""
	for k, v := range b.BuildArgs {
		flags += fmt.Sprintf(" --build-arg %s=%s", k, v)
	}
	return flags
}

func (b *ContainerBuilder) Produce(ctx context.Context) (*Artifact, error) {
	err := shellAt(b.Context, "docker build --platform %s -f %s -t %s%s .", b.Platform, b.Dockerfile, b.ImageURI, b.buildArgFlags())
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	Logger.Println("built image:", b.ImageURI)
	if b.Preview {
		Logger.Println(PreviewString(true)+"push image:", b.ImageURI)
		return &Artifact{ImageURI: b.ImageURI}, nil
	}
	err = shell("echo %s | docker login --username %s --password-stdin %s", b.Auth.Password, b.Auth.Username, b.Auth.Registry)
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	err = shell("docker push %s", b.ImageURI)
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	Logger.Println("pushed image:", b.ImageURI)
	return &Artifact{ImageURI: b.ImageURI}, nil
}

// Verify checks the image exists in the local docker store.
func (b *ContainerBuilder) Verify(artifact *Artifact) error {
	err := shell("docker image inspect %s >/dev/null", artifact.ImageURI)
	if err != nil {
		err := fmt.Errorf("image not found locally: %s", artifact.ImageURI)
		Logger.Println("error:", err)
		return err
	}
	return nil
}
