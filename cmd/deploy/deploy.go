package clideploy

import (
	"context"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/lambdeploy/lambdeploy/lib"
)

func init() {
	lib.Commands["deploy"] = deploy
	lib.Args["deploy"] = deployArgs{}
}

type deployArgs struct {
	Config         string `arg:"positional" default:"deploy.yaml"`
	Preview        bool   `arg:"-p,--preview" help:"log every mutation instead of performing it"`
	Local          bool   `arg:"-l,--local" help:"build and verify the package, skip all remote steps"`
	NoBudget       bool   `arg:"--no-budget" help:"disable budget alert provisioning"`
	SkipValidation bool   `arg:"--skip-validation" help:"skip required env var checks"`
}

func (deployArgs) Description() string {
	return "\ndeploy a zip packaged lambda function with its role, schedule, and budget\n"
}

func deploy() {
	var args deployArgs
	arg.MustParse(&args)
	ctx := context.Background()
	config, err := lib.ConfigFromYaml(args.Config)
	if err != nil {
		lib.Logger.Fatal("error:", err)
	}
	config.Preview = args.Preview
	config.LocalTest = args.Local
	config.SkipValidation = args.SkipValidation
	if args.NoBudget {
		config.Budget.Enabled = false
	}
	err = lib.NewDeployer(config).Deploy(ctx)
	if err != nil {
		os.Exit(1)
	}
}
