package clideploy

import (
	"context"
	"fmt"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/dustin/go-humanize"
	"github.com/lambdeploy/lambdeploy/lib"
)

func init() {
	lib.Commands["build"] = build
	lib.Args["build"] = buildArgs{}
}

type buildArgs struct {
	Config string `arg:"positional" default:"deploy.yaml"`
}

func (buildArgs) Description() string {
	return "\nbuild and verify the deployment package without deploying\n"
}

func build() {
	var args buildArgs
	arg.MustParse(&args)
	ctx := context.Background()
	config, err := lib.ConfigFromYaml(args.Config)
	if err != nil {
		lib.Logger.Fatal("error:", err)
	}
	artifact, err := lib.NewDeployer(config).Build(ctx)
	if err != nil {
		os.Exit(1)
	}
	fmt.Println(artifact.Path, humanize.Bytes(uint64(artifact.Size)))
}
