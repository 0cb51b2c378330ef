package lib

import (
	"context"
	"fmt"
	"os"

	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/gofrs/uuid"
)

type DeployKind string

const (
	DeployKindZip       DeployKind = "zip"
	DeployKindContainer DeployKind = "container"
)

// Step is one unit of the deployment pipeline. Order is significant, it
// encodes dependency: roles are provisioned before the function, the
// function before its schedule.
type Step struct {
	Name string
	Skip func() bool
	Run  func(ctx context.Context) error
}

// Deployer owns the deployment pipeline. It resolves the account identity
// once, assembles the step list for its kind, and runs the steps in order,
// consulting each skip predicate. Every remote call a step makes goes
// through the gateway.
type Deployer struct {
	Config  *DeployConfig
	Gateway *Gateway
	Kind    DeployKind

	builder   Builder
	sts       stsAPI
	iam       iamAPI
	lambda    lambdaAPI
	scheduler schedulerAPI
	sns       snsAPI
	budgets   budgetAPI
	ssm       ssmAPI
	ecr       ecrAPI

	artifact    *Artifact
	roleArn     string
	functionArn string
	repoURI     string
}

func NewDeployer(config *DeployConfig) *Deployer {
	return &Deployer{
		Config:  config,
		Gateway: NewGateway(config.Preview),
		Kind:    DeployKindZip,
	}
}

func NewContainerDeployer(config *DeployConfig) *Deployer {
	d := NewDeployer(config)
	d.Kind = DeployKindContainer
	return d
}

func (d *Deployer) stsApi() stsAPI {
	if d.sts == nil {
		d.sts = STSClient()
	}
	return d.sts
}

func (d *Deployer) iamApi() iamAPI {
	if d.iam == nil {
		d.iam = IamClient()
	}
	return d.iam
}

func (d *Deployer) lambdaApi() lambdaAPI {
	if d.lambda == nil {
		d.lambda = LambdaClient()
	}
	return d.lambda
}

func (d *Deployer) schedulerApi() schedulerAPI {
	if d.scheduler == nil {
		d.scheduler = SchedulerClient()
	}
	return d.scheduler
}

func (d *Deployer) snsApi() snsAPI {
	if d.sns == nil {
		d.sns = SNSClient()
	}
	return d.sns
}

func (d *Deployer) budgetApi() budgetAPI {
	if d.budgets == nil {
		d.budgets = BudgetClient()
	}
	return d.budgets
}

func (d *Deployer) ssmApi() ssmAPI {
	if d.ssm == nil {
		d.ssm = SSMClient()
	}
	return d.ssm
}

func (d *Deployer) ecrApi() ecrAPI {
	if d.ecr == nil {
		d.ecr = EcrClient()
	}
	return d.ecr
}

func (d *Deployer) zipBuilder() Builder {
	if d.builder == nil {
		d.builder = &ZipBuilder{
			SourceDir:   d.Config.SourceDir,
			OutputDir:   d.Config.OutputDir,
			PackageName: d.Config.PackageName,
			SourceFiles: d.Config.SourceFiles,
			Handler:     d.Config.Handler,
			Runtime:     d.Config.Runtime,
		}
	}
	return d.builder
}

func (d *Deployer) skipNever() bool {
	return false
}

func (d *Deployer) skipUnlessLocalTest() bool {
	return !d.Config.LocalTest
}

func (d *Deployer) skipWhenLocalTest() bool {
	return d.Config.LocalTest
}

func (d *Deployer) skipSchedule() bool {
	return d.Config.LocalTest || d.Config.ScheduleExpression == ""
}

func (d *Deployer) skipSecret() bool {
	return d.Config.LocalTest || d.Config.SecretParameterPath == ""
}

// Steps assembles the pipeline once per run. The budget step is only part of
// the list when enforcement is enabled, every other conditional is a skip
// predicate evaluated at run time.
func (d *Deployer) Steps() []Step {
	var steps []Step
	if d.Kind == DeployKindContainer {
		steps = append(steps, Step{Name: "registry setup", Skip: d.skipNever, Run: d.stepRegistry})
	}
	if d.Config.Budget.Enabled {
		steps = append(steps, Step{Name: "budget setup", Skip: d.skipWhenLocalTest, Run: d.stepBudget})
	}
	switch d.Kind {
	case DeployKindContainer:
		steps = append(steps,
			Step{Name: "container build", Skip: d.skipNever, Run: d.stepContainerBuild},
			Step{Name: "local container test", Skip: d.skipUnlessLocalTest, Run: d.stepLocalTest},
			Step{Name: "iam setup", Skip: d.skipWhenLocalTest, Run: d.stepIam},
			Step{Name: "secret storage", Skip: d.skipSecret, Run: d.stepSecret},
			Step{Name: "container deployment", Skip: d.skipWhenLocalTest, Run: d.stepDeployContainer},
			Step{Name: "schedule setup", Skip: d.skipSchedule, Run: d.stepSchedule},
		)
	default:
		steps = append(steps,
			Step{Name: "build package", Skip: d.skipNever, Run: d.stepBuild},
			Step{Name: "local test", Skip: d.skipUnlessLocalTest, Run: d.stepLocalTest},
			Step{Name: "iam setup", Skip: d.skipWhenLocalTest, Run: d.stepIam},
			Step{Name: "secret storage", Skip: d.skipSecret, Run: d.stepSecret},
			Step{Name: "function deployment", Skip: d.skipWhenLocalTest, Run: d.stepDeployFunction},
			Step{Name: "schedule setup", Skip: d.skipSchedule, Run: d.stepSchedule},
		)
	}
	return steps
}

// Deploy runs the whole pipeline. Identity resolution happens before any
// step and is never retried, a credential failure is a configuration
// problem. Any step error aborts the run immediately, retries happen only
// inside the gateway around individual remote calls.
func (d *Deployer) Deploy(ctx context.Context) error {
	if !d.Config.SkipValidation {
		err := EnvValidate(d.Config.RequiredEnvVars)
		if err != nil {
			Logger.Println("error:", err)
			return err
		}
	}
	account, err := AwsValidate(ctx, d.stsApi(), d.Config.Region)
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	err = d.Config.SetAccountID(account)
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	deployID := uuid.Must(uuid.NewV4()).String()[:8]
	Logger.Println(PreviewString(d.Gateway.Preview)+"starting deployment:", d.Config.FunctionName, string(d.Kind), deployID)
	for _, step := range d.Steps() {
		if step.Skip() {
			Logger.Println("skip step:", step.Name)
			continue
		}
		Logger.Println("step:", step.Name)
		err := step.Run(ctx)
		if err != nil {
			Logger.Println("error:", "step "+step.Name+":", err)
			d.cleanupOnFailure()
			return fmt.Errorf("step %s: %w", step.Name, err)
		}
	}
	d.summary()
	return nil
}

// Build produces and verifies the artifact without deploying.
func (d *Deployer) Build(ctx context.Context) (*Artifact, error) {
	builder := d.zipBuilder()
	artifact, err := builder.Produce(ctx)
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	err = builder.Verify(artifact)
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	return artifact, nil
}

func (d *Deployer) stepBudget(ctx context.Context) error {
	account, err := d.Config.AccountID()
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	_, err = IamEnsureBudgetRole(ctx, d.Gateway, d.iamApi(), account, d.Config.BudgetRoleName())
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	return BudgetSetup(ctx, d.Gateway, d.snsApi(), d.budgetApi(), d.Config.Region, account, d.Config.Budget.Name, d.Config.Budget.Limit, d.Config.Budget.Email)
}

func (d *Deployer) stepBuild(ctx context.Context) error {
	artifact, err := d.zipBuilder().Produce(ctx)
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	d.artifact = artifact
	return nil
}

func (d *Deployer) stepLocalTest(_ context.Context) error {
	if d.artifact == nil {
		err := fmt.Errorf("no artifact produced before local test")
		Logger.Println("error:", err)
		return err
	}
	if d.builder == nil && d.Kind == DeployKindZip {
		return d.zipBuilder().Verify(d.artifact)
	}
	if d.builder != nil {
		return d.builder.Verify(d.artifact)
	}
	return nil
}

func (d *Deployer) stepIam(ctx context.Context) error {
	account, err := d.Config.AccountID()
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	roleArn, err := IamEnsureLambdaRole(ctx, d.Gateway, d.iamApi(), d.Config.Region, account, d.Config.RoleName)
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	d.roleArn = roleArn
	_, err = IamEnsureSchedulerRole(ctx, d.Gateway, d.iamApi(), d.Config.Region, account, d.Config.SchedulerRoleName(), d.Config.FunctionName)
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	if d.Kind == DeployKindContainer {
		err = IamPutRolePolicy(ctx, d.Gateway, d.iamApi(), d.Config.RoleName, "ecr-pull-policy", iamEcrPullPolicyDocument(d.Config.Region, account, d.Config.RepoName))
		if err != nil {
			Logger.Println("error:", err)
			return err
		}
	}
	return nil
}

func (d *Deployer) stepSecret(ctx context.Context) error {
	if d.Config.SecretEnvVar == "" {
		err := fmt.Errorf("secret-parameter configured without secret-env-var")
		Logger.Println("error:", err)
		return err
	}
	value := os.Getenv(d.Config.SecretEnvVar)
	if value == "" {
		err := fmt.Errorf("%s not found in environment", d.Config.SecretEnvVar)
		Logger.Println("error:", err)
		return err
	}
	return SsmPutSecret(ctx, d.Gateway, d.ssmApi(), d.Config.SecretParameterPath, value)
}

func (d *Deployer) deployInput() (*LambdaDeployInput, error) {
	env, err := d.Config.EnvVars()
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	err = ValidateEnvVarsSize(env)
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	roleArn := d.roleArn
	if roleArn == "" {
		roleArn, err = d.Config.RoleArn()
		if err != nil {
			Logger.Println("error:", err)
			return nil, err
		}
	}
	return &LambdaDeployInput{
		Name:       d.Config.FunctionName,
		RoleArn:    roleArn,
		Handler:    d.Config.Handler,
		Runtime:    d.Config.Runtime,
		Timeout:    d.Config.Timeout,
		MemorySize: d.Config.MemorySize,
		Env:        env,
		Region:     d.Config.Region,
	}, nil
}

func (d *Deployer) stepDeployFunction(ctx context.Context) error {
	if d.artifact == nil || d.artifact.Path == "" {
		err := fmt.Errorf("no package built before deployment")
		Logger.Println("error:", err)
		return err
	}
	input, err := d.deployInput()
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	arn, err := LambdaDeployZip(ctx, d.Gateway, d.lambdaApi(), input, d.artifact.Path)
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	d.functionArn = arn
	return nil
}

func (d *Deployer) stepRegistry(ctx context.Context) error {
	uri, err := EcrEnsureRepo(ctx, d.Gateway, d.ecrApi(), d.Config.Region, d.Config.RepoName)
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	d.repoURI = uri
	return nil
}

func (d *Deployer) stepContainerBuild(ctx context.Context) error {
	if d.builder == nil {
		auth, err := EcrAuthToken(ctx, d.Gateway, d.ecrApi(), d.Config.Region)
		if err != nil {
			Logger.Println("error:", err)
			return err
		}
		account, err := d.Config.AccountID()
		if err != nil {
			Logger.Println("error:", err)
			return err
		}
		d.builder = &ContainerBuilder{
			Dockerfile: d.Config.Dockerfile,
			Context:    d.Config.SourceDir,
			ImageURI:   d.repoURI + ":" + d.Config.ImageTag,
			Platform:   d.Config.Platform,
			BuildArgs: map[string]string{
				"AWS_ACCOUNT_ID":       account,
				"AWS_REGION":           d.Config.Region,
				"LAMBDA_FUNCTION_NAME": d.Config.FunctionName,
			},
			Auth:    auth,
			Preview: d.Gateway.Preview,
		}
	}
	artifact, err := d.builder.Produce(ctx)
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	d.artifact = artifact
	return nil
}

func (d *Deployer) stepDeployContainer(ctx context.Context) error {
	if d.artifact == nil || d.artifact.ImageURI == "" {
		err := fmt.Errorf("no image built before deployment")
		Logger.Println("error:", err)
		return err
	}
	input, err := d.deployInput()
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	arn, err := LambdaDeployContainer(ctx, d.Gateway, d.lambdaApi(), input, d.artifact.ImageURI, []lambdatypes.Architecture{lambdatypes.ArchitectureX8664})
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	d.functionArn = arn
	return nil
}

func (d *Deployer) stepSchedule(ctx context.Context) error {
	target := d.functionArn
	if target == "" {
		var err error
		target, err = d.Config.LambdaArn()
		if err != nil {
			Logger.Println("error:", err)
			return err
		}
	}
	roleArn, err := d.Config.SchedulerRoleArn()
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	return SchedulerEnsure(ctx, d.Gateway, d.schedulerApi(), &ScheduleInput{
		Name:        d.Config.ScheduleName,
		Expression:  d.Config.ScheduleExpression,
		Timezone:    d.Config.ScheduleTimezone,
		TargetArn:   target,
		RoleArn:     roleArn,
		Description: "invokes " + d.Config.FunctionName,
	})
}

// cleanupOnFailure is best effort: it never raises and never masks the
// original failure. Nothing was mutated while previewing or local testing,
// so there is nothing to clean up there either.
func (d *Deployer) cleanupOnFailure() {
	if d.Gateway.Preview || d.Config.LocalTest {
		return
	}
	Logger.Println("cleaning up after failure")
	if d.artifact != nil && d.artifact.Path != "" {
		err := os.Remove(d.artifact.Path)
		if err != nil && !os.IsNotExist(err) {
			Logger.Println("cleanup:", err)
		}
	}
}

// summary lists operational next steps. Suppressed while previewing or
// local testing, those runs did not change anything remote.
func (d *Deployer) summary() {
	if d.Gateway.Preview || d.Config.LocalTest {
		return
	}
	Logger.Println("deployment completed:", d.Config.FunctionName)
	if d.functionArn != "" {
		Logger.Println("function:", d.functionArn)
	}
	if d.Config.ScheduleExpression != "" {
		Logger.Println("schedule:", d.Config.ScheduleName, d.Config.ScheduleExpression)
	}
	Logger.Println("next: tail the function logs to confirm the first scheduled run")
	if d.Config.Budget.Enabled {
		Logger.Println("next: confirm the budget alert subscription email sent to", d.Config.Budget.Email)
	}
}
