package lib

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

const (
	// lambda rejects env var maps above 4KB, estimate includes encoding
	// overhead per variable plus a fixed margin
	lambdaEnvVarsMaxBytes  = 4000
	lambdaEnvVarsWarnBytes = 3500
)

type BudgetConfig struct {
	Enabled bool    `yaml:"enabled"`
	Name    string  `yaml:"name"`
	Limit   float64 `yaml:"limit"`
	Email   string  `yaml:"email"`
}

// DeployConfig aggregates everything a run needs. The account id is resolved
// exactly once at startup, the rest is immutable after loading.
type DeployConfig struct {
	FunctionName string `yaml:"function-name"`
	Handler      string `yaml:"handler"`
	Runtime      string `yaml:"runtime"`
	MemorySize   int    `yaml:"memory-size"`
	Timeout      int    `yaml:"timeout"`

	Region       string `yaml:"region"`
	RoleName     string `yaml:"role-name"`
	ScheduleName string `yaml:"schedule-name"`

	SourceDir   string   `yaml:"source-dir"`
	OutputDir   string   `yaml:"output-dir"`
	PackageName string   `yaml:"package-name"`
	SourceFiles []string `yaml:"source-files"`

	ScheduleExpression string `yaml:"schedule-expression"`
	ScheduleTimezone   string `yaml:"schedule-timezone"`

	Budget BudgetConfig `yaml:"budget"`

	RepoName   string `yaml:"ecr-repo"`
	ImageTag   string `yaml:"image-tag"`
	Dockerfile string `yaml:"dockerfile"`
	Platform   string `yaml:"platform"`

	SecretParameterPath string `yaml:"secret-parameter"`
	SecretEnvVar        string `yaml:"secret-env-var"`

	RequiredEnvVars []string `yaml:"required-env-vars"`
	EnvVarPrefixes  []string `yaml:"env-var-prefixes"`

	Preview        bool `yaml:"-"`
	LocalTest      bool `yaml:"-"`
	SkipValidation bool `yaml:"-"`

	accountID string
}

func (c *DeployConfig) SetDefaults() {
	if c.FunctionName == "" {
		c.FunctionName = "lambda-function"
	}
	if c.Handler == "" {
		c.Handler = "lambda_function.lambda_handler"
	}
	if c.Runtime == "" {
		c.Runtime = "python3.12"
	}
	if c.MemorySize == 0 {
		c.MemorySize = 512
	}
	if c.Timeout == 0 {
		c.Timeout = 300
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.RoleName == "" {
		c.RoleName = c.FunctionName + "-execution-role"
	}
	if c.ScheduleName == "" {
		c.ScheduleName = c.FunctionName + "-schedule"
	}
	if c.SourceDir == "" {
		c.SourceDir = "."
	}
	if c.OutputDir == "" {
		c.OutputDir = "dist"
	}
	if c.PackageName == "" {
		c.PackageName = "lambda-package.zip"
	}
	if c.ScheduleExpression == "" {
		c.ScheduleExpression = "rate(5 minutes)"
	}
	if c.Budget.Name == "" {
		c.Budget.Name = c.FunctionName + "-budget"
	}
	if c.Budget.Limit == 0 {
		c.Budget.Limit = 1.00
	}
	if c.ImageTag == "" {
		c.ImageTag = "latest"
	}
	if c.Dockerfile == "" {
		c.Dockerfile = "Dockerfile"
	}
	if c.Platform == "" {
		c.Platform = "linux/amd64"
	}
}

func ConfigFromYaml(path string) (*DeployConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	c := &DeployConfig{}
	err = yaml.Unmarshal(data, c)
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	c.SetDefaults()
	return c, nil
}

// SetAccountID records the resolved account identity. It is write-once,
// everything deriving arns fails until it has been called.
func (c *DeployConfig) SetAccountID(account string) error {
	if c.accountID != "" {
		err := fmt.Errorf("account id already resolved: %s", c.accountID)
		Logger.Println("error:", err)
		return err
	}
	if account == "" {
		err := fmt.Errorf("cannot resolve empty account id")
		Logger.Println("error:", err)
		return err
	}
	c.accountID = account
	return nil
}

func (c *DeployConfig) AccountID() (string, error) {
	if c.accountID == "" {
		err := fmt.Errorf("account id not resolved yet")
		Logger.Println("error:", err)
		return "", err
	}
	return c.accountID, nil
}

func (c *DeployConfig) LambdaArn() (string, error) {
	account, err := c.AccountID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", c.Region, account, c.FunctionName), nil
}

func (c *DeployConfig) RoleArn() (string, error) {
	account, err := c.AccountID()
	if err != nil {
		return "", err
	}
	return IamRoleArn(account, c.RoleName), nil
}

func (c *DeployConfig) SchedulerRoleName() string {
	return c.FunctionName + "-schedule-role"
}

func (c *DeployConfig) BudgetRoleName() string {
	return c.FunctionName + "-budget-action-role"
}

func (c *DeployConfig) SchedulerRoleArn() (string, error) {
	account, err := c.AccountID()
	if err != nil {
		return "", err
	}
	return IamRoleArn(account, c.SchedulerRoleName()), nil
}

// EnvVars collects the function environment from the deploy environment:
// every required var, plus every var matching a configured prefix.
func (c *DeployConfig) EnvVars() (map[string]string, error) {
	vars := make(map[string]string)
	for _, name := range c.RequiredEnvVars {
		val := os.Getenv(name)
		if val == "" {
			err := fmt.Errorf("required environment variable not found: %s", name)
			Logger.Println("error:", err)
			return nil, err
		}
		vars[name] = val
	}
	for _, kv := range os.Environ() {
		k, v, err := SplitOnce(kv, "=")
		if err != nil {
			continue
		}
		for _, prefix := range c.EnvVarPrefixes {
			if strings.HasPrefix(k, prefix) && strings.TrimSpace(v) != "" {
				vars[k] = strings.TrimSpace(v)
				break
			}
		}
	}
	size := EnvVarsSize(vars)
	if size > lambdaEnvVarsWarnBytes {
		Logger.Println("env vars size", humanize.Bytes(uint64(size)), "approaching the 4KB limit")
	}
	return vars, nil
}

// EnvVarsSize estimates the encoded size of the env var map, including
// per-entry encoding overhead.
func EnvVarsSize(vars map[string]string) int {
	size := 0
	for k, v := range vars {
		size += len(k) + len(v)
	}
	return size + len(vars)*10 + 100
}

func ValidateEnvVarsSize(vars map[string]string) error {
	size := EnvVarsSize(vars)
	if size > lambdaEnvVarsMaxBytes {
		err := fmt.Errorf("env vars exceed the lambda 4KB limit, estimated %d bytes", size)
		Logger.Println("error:", err)
		return err
	}
	return nil
}
