package lib

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

type fakeSts struct {
	account string
	err     error
	calls   int
}

func (f *fakeSts) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String(f.account)}, nil
}

type fakeSsm struct {
	puts []string
}

func (f *fakeSsm) PutParameter(_ context.Context, params *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.puts = append(f.puts, *params.Name)
	return &ssm.PutParameterOutput{}, nil
}

func (f *fakeSsm) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return nil, &smithy.GenericAPIError{Code: "ParameterNotFound"}
}

type fakeEcr struct {
	repos   map[string]bool
	creates int
}

func newFakeEcr() *fakeEcr {
	return &fakeEcr{repos: map[string]bool{}}
}

func (f *fakeEcr) repoURI(name string) string {
	return "123456789012.dkr.ecr.us-east-1.amazonaws.com/" + name
}

func (f *fakeEcr) DescribeRepositories(_ context.Context, params *ecr.DescribeRepositoriesInput, _ ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	name := params.RepositoryNames[0]
	if !f.repos[name] {
		return nil, &smithy.GenericAPIError{Code: "RepositoryNotFoundException"}
	}
	return &ecr.DescribeRepositoriesOutput{
		Repositories: []ecrtypes.Repository{{RepositoryUri: aws.String(f.repoURI(name))}},
	}, nil
}

func (f *fakeEcr) CreateRepository(_ context.Context, params *ecr.CreateRepositoryInput, _ ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	f.creates++
	name := *params.RepositoryName
	f.repos[name] = true
	return &ecr.CreateRepositoryOutput{
		Repository: &ecrtypes.Repository{RepositoryUri: aws.String(f.repoURI(name))},
	}, nil
}

func (f *fakeEcr) GetAuthorizationToken(_ context.Context, _ *ecr.GetAuthorizationTokenInput, _ ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	return &ecr.GetAuthorizationTokenOutput{
		AuthorizationData: []ecrtypes.AuthorizationData{{
			AuthorizationToken: aws.String("QVdTOnRva2Vu"),
			ProxyEndpoint:      aws.String("https://123456789012.dkr.ecr.us-east-1.amazonaws.com"),
		}},
	}, nil
}

type fakeBuilder struct {
	artifact   *Artifact
	produceErr error
	produced   int
	verified   int
}

func (f *fakeBuilder) Produce(_ context.Context) (*Artifact, error) {
	f.produced++
	if f.produceErr != nil {
		return nil, f.produceErr
	}
	return f.artifact, nil
}

func (f *fakeBuilder) Verify(_ *Artifact) error {
	f.verified++
	return nil
}

type deployFakes struct {
	sts       *fakeSts
	iam       *fakeIam
	lambda    *fakeLambda
	scheduler *fakeScheduler
	sns       *fakeSns
	budgets   *fakeBudgets
	ssm       *fakeSsm
	ecr       *fakeEcr
	builder   *fakeBuilder
}

func newTestDeployer(config *DeployConfig, kind DeployKind, artifact *Artifact) (*Deployer, *deployFakes) {
	f := &deployFakes{
		sts:       &fakeSts{account: "123456789012"},
		iam:       newFakeIam(),
		lambda:    newFakeLambda(),
		scheduler: newFakeScheduler(),
		sns:       newFakeSns(),
		budgets:   newFakeBudgets(),
		ssm:       &fakeSsm{},
		ecr:       newFakeEcr(),
		builder:   &fakeBuilder{artifact: artifact},
	}
	d := &Deployer{
		Config:    config,
		Gateway:   fastGateway(config.Preview),
		Kind:      kind,
		builder:   f.builder,
		sts:       f.sts,
		iam:       f.iam,
		lambda:    f.lambda,
		scheduler: f.scheduler,
		sns:       f.sns,
		budgets:   f.budgets,
		ssm:       f.ssm,
		ecr:       f.ecr,
	}
	return d, f
}

func stepNames(steps []Step) []string {
	var names []string
	for _, step := range steps {
		names = append(names, step.Name)
	}
	return names
}

func TestDeployStepsZip(t *testing.T) {
	config := &DeployConfig{Budget: BudgetConfig{Enabled: true}}
	config.SetDefaults()
	d := NewDeployer(config)
	want := []string{"budget setup", "build package", "local test", "iam setup", "secret storage", "function deployment", "schedule setup"}
	got := stepNames(d.Steps())
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("steps: %v", got)
	}
}

func TestDeployStepsContainer(t *testing.T) {
	config := &DeployConfig{Budget: BudgetConfig{Enabled: true}, RepoName: "reporter"}
	config.SetDefaults()
	d := NewContainerDeployer(config)
	want := []string{"registry setup", "budget setup", "container build", "local container test", "iam setup", "secret storage", "container deployment", "schedule setup"}
	got := stepNames(d.Steps())
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("steps: %v", got)
	}
}

func TestDeployStepsOmitBudgetWhenDisabled(t *testing.T) {
	config := &DeployConfig{}
	config.SetDefaults()
	d := NewDeployer(config)
	for _, name := range stepNames(d.Steps()) {
		if name == "budget setup" {
			t.Fatal("budget step present with enforcement disabled")
		}
	}
}

func TestDeploySkipPredicates(t *testing.T) {
	config := &DeployConfig{}
	config.SetDefaults()
	d := NewDeployer(config)
	if d.skipSecret() != true {
		t.Error("secret step should be skipped without a parameter path")
	}
	config.SecretParameterPath = "/reporter/api-key"
	if d.skipSecret() != false {
		t.Error("secret step should run with a parameter path")
	}
	config.ScheduleExpression = ""
	if d.skipSchedule() != true {
		t.Error("schedule step should be skipped without an expression")
	}
	config.ScheduleExpression = "rate(5 minutes)"
	config.LocalTest = true
	if !d.skipSchedule() || !d.skipSecret() || !d.skipWhenLocalTest() {
		t.Error("local test should skip all remote steps")
	}
	if d.skipUnlessLocalTest() {
		t.Error("local test step should run while local testing")
	}
}

func deployTestConfig(t *testing.T) *DeployConfig {
	t.Helper()
	config := &DeployConfig{
		FunctionName: "reporter",
		Budget: BudgetConfig{
			Enabled: true,
			Email:   "ops@example.com",
		},
	}
	config.SetDefaults()
	return config
}

func TestDeployZipEndToEnd(t *testing.T) {
	zeroPropagationDelays(t)
	t.Setenv("REPORTER_API_KEY", "secret-value")
	config := deployTestConfig(t)
	config.SecretParameterPath = "/reporter/api-key"
	config.SecretEnvVar = "REPORTER_API_KEY"
	d, f := newTestDeployer(config, DeployKindZip, &Artifact{Path: testZip(t), Size: 25})
	err := d.Deploy(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.builder.produced != 1 {
		t.Errorf("builds: %d", f.builder.produced)
	}
	if f.iam.createCalls != 3 {
		t.Errorf("role creates: %d, want 3 (execution, scheduler, budget action)", f.iam.createCalls)
	}
	if f.lambda.created != 1 {
		t.Errorf("function creates: %d", f.lambda.created)
	}
	if f.scheduler.lastCreate == nil {
		t.Error("schedule not created")
	}
	if f.budgets.lastCreate == nil {
		t.Error("budget not created")
	}
	if len(f.sns.subscriptions) != 1 || f.sns.subscriptions[0] != "ops@example.com" {
		t.Errorf("subscriptions: %v", f.sns.subscriptions)
	}
	if len(f.ssm.puts) != 1 || f.ssm.puts[0] != "/reporter/api-key" {
		t.Errorf("ssm puts: %v", f.ssm.puts)
	}
	account, err := config.AccountID()
	if err != nil {
		t.Fatal(err)
	}
	if account != "123456789012" {
		t.Errorf("account: %s", account)
	}
}

func TestDeployZipIdempotent(t *testing.T) {
	zeroPropagationDelays(t)
	config := deployTestConfig(t)
	d, f := newTestDeployer(config, DeployKindZip, &Artifact{Path: testZip(t), Size: 25})
	ctx := context.Background()
	err := d.Deploy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second := &DeployConfig{FunctionName: "reporter", Budget: config.Budget}
	second.SetDefaults()
	d2, _ := newTestDeployer(second, DeployKindZip, &Artifact{Path: testZip(t), Size: 25})
	d2.iam = f.iam
	d2.lambda = f.lambda
	d2.scheduler = f.scheduler
	d2.sns = f.sns
	d2.budgets = f.budgets
	err = d2.Deploy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.iam.createCalls != 3 {
		t.Errorf("second run recreated roles: %d creates", f.iam.createCalls)
	}
	if f.lambda.created != 1 || f.lambda.codeUpdates != 1 {
		t.Errorf("second run should update, got created=%d codeUpdates=%d", f.lambda.created, f.lambda.codeUpdates)
	}
	if f.scheduler.lastUpdate == nil {
		t.Error("second run should update the schedule")
	}
	if f.sns.subscribes != 1 {
		t.Errorf("second run resubscribed: %d", f.sns.subscribes)
	}
}

func TestDeployPreviewMutatesNothing(t *testing.T) {
	config := deployTestConfig(t)
	config.Preview = true
	d, f := newTestDeployer(config, DeployKindZip, &Artifact{Path: testZip(t), Size: 25})
	err := d.Deploy(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.sts.calls != 1 {
		t.Errorf("identity should still resolve while previewing, got %d calls", f.sts.calls)
	}
	if f.builder.produced != 1 {
		t.Error("package build is local, it should still run while previewing")
	}
	if f.iam.createCalls != 0 || f.lambda.created != 0 || f.scheduler.lastCreate != nil || f.budgets.lastCreate != nil || f.sns.subscribes != 0 {
		t.Error("preview made remote mutations")
	}
}

func TestDeployLocalTestSkipsRemoteSteps(t *testing.T) {
	config := deployTestConfig(t)
	config.LocalTest = true
	d, f := newTestDeployer(config, DeployKindZip, &Artifact{Path: testZip(t), Size: 25})
	err := d.Deploy(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.builder.produced != 1 || f.builder.verified != 1 {
		t.Errorf("local test should build and verify, got produced=%d verified=%d", f.builder.produced, f.builder.verified)
	}
	if f.iam.createCalls != 0 || f.lambda.created != 0 || f.budgets.lastCreate != nil {
		t.Error("local test made remote mutations")
	}
}

func TestDeployStepFailureAborts(t *testing.T) {
	zeroPropagationDelays(t)
	config := deployTestConfig(t)
	d, f := newTestDeployer(config, DeployKindZip, nil)
	f.builder.produceErr = errors.New("zip exited 1")
	err := d.Deploy(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "step build package") {
		t.Errorf("error should name the failed step: %v", err)
	}
	if f.iam.createCalls != 0 || f.lambda.created != 0 {
		t.Error("later steps ran after a failure")
	}
}

func TestDeployInvalidCredentials(t *testing.T) {
	config := deployTestConfig(t)
	d, f := newTestDeployer(config, DeployKindZip, nil)
	f.sts.err = &smithy.GenericAPIError{Code: "InvalidClientTokenId"}
	err := d.Deploy(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if f.sts.calls != 1 {
		t.Errorf("identity resolution should not retry, got %d calls", f.sts.calls)
	}
	if f.builder.produced != 0 {
		t.Error("no step should run after identity resolution fails")
	}
}

func TestDeployRequiredEnvValidation(t *testing.T) {
	config := deployTestConfig(t)
	config.RequiredEnvVars = []string{"DEPLOY_TEST_ABSENT"}
	d, f := newTestDeployer(config, DeployKindZip, nil)
	err := d.Deploy(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if f.sts.calls != 0 {
		t.Error("env validation should precede identity resolution")
	}
	t.Setenv("DEPLOY_TEST_ABSENT", "present-now")
	zeroPropagationDelays(t)
	d, _ = newTestDeployer(config, DeployKindZip, &Artifact{Path: testZip(t), Size: 25})
	err = d.Deploy(context.Background())
	if err != nil {
		t.Fatal(err)
	}
}

func TestDeployContainerEndToEnd(t *testing.T) {
	zeroPropagationDelays(t)
	config := deployTestConfig(t)
	config.RepoName = "reporter"
	imageURI := "123456789012.dkr.ecr.us-east-1.amazonaws.com/reporter:latest"
	d, f := newTestDeployer(config, DeployKindContainer, &Artifact{ImageURI: imageURI})
	err := d.Deploy(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.ecr.creates != 1 {
		t.Errorf("repo creates: %d", f.ecr.creates)
	}
	if f.lambda.created != 1 {
		t.Errorf("function creates: %d", f.lambda.created)
	}
	pullPolicy := false
	for _, name := range f.iam.policies {
		if name == "ecr-pull-policy" {
			pullPolicy = true
		}
	}
	if !pullPolicy {
		t.Errorf("execution role missing the ecr pull policy: %v", f.iam.policies)
	}
}
