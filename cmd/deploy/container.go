package clideploy

import (
	"context"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/lambdeploy/lambdeploy/lib"
)

func init() {
	lib.Commands["deploy-container"] = deployContainer
	lib.Args["deploy-container"] = deployContainerArgs{}
}

type deployContainerArgs struct {
	Config         string `arg:"positional" default:"deploy.yaml"`
	Preview        bool   `arg:"-p,--preview" help:"log every mutation instead of performing it"`
	Local          bool   `arg:"-l,--local" help:"build and verify the image, skip push and all remote steps"`
	NoBudget       bool   `arg:"--no-budget" help:"disable budget alert provisioning"`
	SkipValidation bool   `arg:"--skip-validation" help:"skip required env var checks"`
}

func (deployContainerArgs) Description() string {
	return "\ndeploy a container packaged lambda function with its ecr repo, role, schedule, and budget\n"
}

func deployContainer() {
	var args deployContainerArgs
	arg.MustParse(&args)
	ctx := context.Background()
	config, err := lib.ConfigFromYaml(args.Config)
	if err != nil {
		lib.Logger.Fatal("error:", err)
	}
	if config.RepoName == "" {
		lib.Logger.Fatal("error: ecr-repo is required for container deployment")
	}
	config.Preview = args.Preview
	config.LocalTest = args.Local
	config.SkipValidation = args.SkipValidation
	if args.NoBudget {
		config.Budget.Enabled = false
	}
	err = lib.NewContainerDeployer(config).Deploy(ctx)
	if err != nil {
		os.Exit(1)
	}
}
