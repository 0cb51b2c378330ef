package lib

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigDefaults(t *testing.T) {
	c := &DeployConfig{}
	c.SetDefaults()
	if c.FunctionName != "lambda-function" {
		t.Errorf("function name: %s", c.FunctionName)
	}
	if c.Runtime != "python3.12" {
		t.Errorf("runtime: %s", c.Runtime)
	}
	if c.MemorySize != 512 || c.Timeout != 300 {
		t.Errorf("memory %d timeout %d", c.MemorySize, c.Timeout)
	}
	if c.RoleName != "lambda-function-execution-role" {
		t.Errorf("role name: %s", c.RoleName)
	}
	if c.ScheduleName != "lambda-function-schedule" {
		t.Errorf("schedule name: %s", c.ScheduleName)
	}
	if c.Budget.Name != "lambda-function-budget" || c.Budget.Limit != 1.00 {
		t.Errorf("budget: %+v", c.Budget)
	}
	if c.SchedulerRoleName() != "lambda-function-schedule-role" {
		t.Errorf("scheduler role: %s", c.SchedulerRoleName())
	}
	if c.BudgetRoleName() != "lambda-function-budget-action-role" {
		t.Errorf("budget role: %s", c.BudgetRoleName())
	}
}

func TestConfigDefaultsKeepExplicitValues(t *testing.T) {
	c := &DeployConfig{FunctionName: "reporter", MemorySize: 1024}
	c.SetDefaults()
	if c.FunctionName != "reporter" || c.MemorySize != 1024 {
		t.Errorf("explicit values overwritten: %+v", c)
	}
	if c.RoleName != "reporter-execution-role" {
		t.Errorf("role name should derive from function name: %s", c.RoleName)
	}
}

func TestConfigFromYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.yaml")
	data := `
function-name: reporter
region: eu-west-1
timeout: 60
schedule-expression: cron(0 9 * * ? *)
schedule-timezone: Europe/London
budget:
  enabled: true
  limit: 5.50
  email: ops@example.com
`
	err := os.WriteFile(path, []byte(data), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	c, err := ConfigFromYaml(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.FunctionName != "reporter" || c.Region != "eu-west-1" || c.Timeout != 60 {
		t.Errorf("%+v", c)
	}
	if c.ScheduleExpression != "cron(0 9 * * ? *)" || c.ScheduleTimezone != "Europe/London" {
		t.Errorf("schedule: %s %s", c.ScheduleExpression, c.ScheduleTimezone)
	}
	if !c.Budget.Enabled || c.Budget.Limit != 5.50 || c.Budget.Email != "ops@example.com" {
		t.Errorf("budget: %+v", c.Budget)
	}
	if c.Handler != "lambda_function.lambda_handler" {
		t.Errorf("defaults should fill unset fields: %s", c.Handler)
	}
}

func TestAccountIDWriteOnce(t *testing.T) {
	c := &DeployConfig{}
	c.SetDefaults()
	_, err := c.AccountID()
	if err == nil {
		t.Fatal("account id should be unavailable before resolution")
	}
	_, err = c.LambdaArn()
	if err == nil {
		t.Fatal("arn derivation should fail before resolution")
	}
	err = c.SetAccountID("")
	if err == nil {
		t.Fatal("empty account id should be rejected")
	}
	err = c.SetAccountID("123456789012")
	if err != nil {
		t.Fatal(err)
	}
	err = c.SetAccountID("210987654321")
	if err == nil {
		t.Fatal("second resolution should be rejected")
	}
	account, err := c.AccountID()
	if err != nil {
		t.Fatal(err)
	}
	if account != "123456789012" {
		t.Errorf("account: %s", account)
	}
	arn, err := c.LambdaArn()
	if err != nil {
		t.Fatal(err)
	}
	if arn != "arn:aws:lambda:us-east-1:123456789012:function:lambda-function" {
		t.Errorf("arn: %s", arn)
	}
}

func TestEnvVars(t *testing.T) {
	t.Setenv("DEPLOY_TEST_TOKEN", "abc")
	t.Setenv("REPORTER_DB_HOST", "db.internal")
	t.Setenv("REPORTER_EMPTY", "   ")
	c := &DeployConfig{
		RequiredEnvVars: []string{"DEPLOY_TEST_TOKEN"},
		EnvVarPrefixes:  []string{"REPORTER_"},
	}
	vars, err := c.EnvVars()
	if err != nil {
		t.Fatal(err)
	}
	if vars["DEPLOY_TEST_TOKEN"] != "abc" {
		t.Errorf("required var missing: %v", vars)
	}
	if vars["REPORTER_DB_HOST"] != "db.internal" {
		t.Errorf("prefixed var missing: %v", vars)
	}
	if _, ok := vars["REPORTER_EMPTY"]; ok {
		t.Error("blank values should be skipped")
	}
}

func TestEnvVarsMissingRequired(t *testing.T) {
	c := &DeployConfig{RequiredEnvVars: []string{"DEPLOY_TEST_ABSENT"}}
	_, err := c.EnvVars()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "DEPLOY_TEST_ABSENT") {
		t.Errorf("error should name the variable: %v", err)
	}
}

func TestValidateEnvVarsSize(t *testing.T) {
	small := map[string]string{"KEY": "value"}
	if err := ValidateEnvVarsSize(small); err != nil {
		t.Fatal(err)
	}
	big := map[string]string{"KEY": strings.Repeat("x", 5000)}
	if err := ValidateEnvVarsSize(big); err == nil {
		t.Fatal("oversized env vars should be rejected")
	}
}
