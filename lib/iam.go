package lib

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
)

const lambdaBasicExecutionPolicyArn = "arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"

// iam is eventually consistent, a freshly created role is not necessarily
// assumable right away
var iamRolePropagationDelay = 10 * time.Second
var iamSchedulerRolePropagationDelay = 5 * time.Second

var iamClient *iam.Client
var iamClientLock sync.Mutex

func IamClient() *iam.Client {
	iamClientLock.Lock()
	defer iamClientLock.Unlock()
	if iamClient == nil {
		iamClient = iam.NewFromConfig(*Session())
	}
	return iamClient
}

type iamAPI interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	PutRolePolicy(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
}

func IamRoleArn(account, roleName string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", account, roleName)
}

func iamAssumePolicyDocument(principalName string) string {
	return `{"Version": "2012-10-17",
             "Statement": [{"Effect": "Allow",
                            "Principal": {"Service": "` + principalName + `.amazonaws.com"},
                            "Action": "sts:AssumeRole"}]}`
}

func iamSchedulerAssumePolicyDocument(account string) string {
	return `{"Version": "2012-10-17",
             "Statement": [{"Effect": "Allow",
                            "Principal": {"Service": "scheduler.amazonaws.com"},
                            "Action": "sts:AssumeRole",
                            "Condition": {"StringEquals": {"aws:SourceAccount": "` + account + `"}}}]}`
}

func iamParameterPolicyDocument(region, account string) string {
	return `{"Version": "2012-10-17",
             "Statement": [{"Effect": "Allow",
                            "Action": ["ssm:GetParameter", "ssm:PutParameter"],
                            "Resource": "arn:aws:ssm:` + region + `:` + account + `:parameter/*"}]}`
}

func iamInvokeFunctionPolicyDocument(region, account, functionName string) string {
	return `{"Version": "2012-10-17",
             "Statement": [{"Effect": "Allow",
                            "Action": "lambda:InvokeFunction",
                            "Resource": "arn:aws:lambda:` + region + `:` + account + `:function:` + functionName + `"}]}`
}

func iamBudgetActionPolicyDocument() string {
	return `{"Version": "2012-10-17",
             "Statement": [{"Effect": "Allow",
                            "Action": ["lambda:UpdateFunctionConfiguration",
                                       "scheduler:UpdateSchedule",
                                       "sns:Publish"],
                            "Resource": "*"}]}`
}

func iamEcrPullPolicyDocument(region, account, repoName string) string {
	return `{"Version": "2012-10-17",
             "Statement": [{"Effect": "Allow",
                            "Action": ["ecr:GetDownloadUrlForLayer",
                                       "ecr:BatchGetImage",
                                       "ecr:BatchCheckLayerAvailability"],
                            "Resource": "arn:aws:ecr:` + region + `:` + account + `:repository/` + repoName + `"},
                           {"Effect": "Allow",
                            "Action": "ecr:GetAuthorizationToken",
                            "Resource": "*"}]}`
}

func iamExistsRole(ctx context.Context, gw *Gateway, api iamAPI, roleName string) (bool, error) {
	return gw.Exists(ctx, "iam.GetRole "+roleName, func(ctx context.Context) error {
		_, err := api.GetRole(ctx, &iam.GetRoleInput{
			RoleName: aws.String(roleName),
		})
		return err
	})
}

func iamCreateRole(ctx context.Context, gw *Gateway, api iamAPI, roleName, trustPolicy, description string) error {
	return gw.Call(ctx, "iam.CreateRole "+roleName, func(ctx context.Context) error {
		_, err := api.CreateRole(ctx, &iam.CreateRoleInput{
			RoleName:                 aws.String(roleName),
			AssumeRolePolicyDocument: aws.String(trustPolicy),
			Description:              aws.String(description),
		})
		return err
	})
}

func IamPutRolePolicy(ctx context.Context, gw *Gateway, api iamAPI, roleName, policyName, policyDocument string) error {
	err := gw.Call(ctx, "iam.PutRolePolicy "+roleName+" "+policyName, func(ctx context.Context) error {
		_, err := api.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
			RoleName:       aws.String(roleName),
			PolicyName:     aws.String(policyName),
			PolicyDocument: aws.String(policyDocument),
		})
		return err
	})
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	Logger.Println(PreviewString(gw.Preview)+"put role policy:", roleName, policyName)
	return nil
}

// IamEnsureLambdaRole ensures the function execution role. Trust policies are
// create-only: an existing role is returned untouched, there is no diff or
// update path for identity resources.
func IamEnsureLambdaRole(ctx context.Context, gw *Gateway, api iamAPI, region, account, roleName string) (string, error) {
	arn := IamRoleArn(account, roleName)
	exists, err := iamExistsRole(ctx, gw, api, roleName)
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	if exists {
		Logger.Println("role exists:", roleName)
		return arn, nil
	}
	err = iamCreateRole(ctx, gw, api, roleName, iamAssumePolicyDocument("lambda"), "execution role for lambda function")
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	err = gw.Call(ctx, "iam.AttachRolePolicy "+roleName, func(ctx context.Context) error {
		_, err := api.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(roleName),
			PolicyArn: aws.String(lambdaBasicExecutionPolicyArn),
		})
		return err
	})
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	err = IamPutRolePolicy(ctx, gw, api, roleName, roleName+"-ssm-policy", iamParameterPolicyDocument(region, account))
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	if !gw.Preview {
		time.Sleep(iamRolePropagationDelay)
	}
	Logger.Println(PreviewString(gw.Preview)+"created role:", roleName)
	return arn, nil
}

// IamEnsureSchedulerRole ensures the role the scheduler assumes to invoke the
// function. Create-only, same as the execution role.
func IamEnsureSchedulerRole(ctx context.Context, gw *Gateway, api iamAPI, region, account, roleName, functionName string) (string, error) {
	arn := IamRoleArn(account, roleName)
	exists, err := iamExistsRole(ctx, gw, api, roleName)
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	if exists {
		Logger.Println("role exists:", roleName)
		return arn, nil
	}
	err = iamCreateRole(ctx, gw, api, roleName, iamSchedulerAssumePolicyDocument(account), "role for the scheduler to invoke lambda")
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	err = IamPutRolePolicy(ctx, gw, api, roleName, roleName+"-schedule-policy", iamInvokeFunctionPolicyDocument(region, account, functionName))
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	if !gw.Preview {
		time.Sleep(iamSchedulerRolePropagationDelay)
	}
	Logger.Println(PreviewString(gw.Preview)+"created role:", roleName)
	return arn, nil
}

// IamEnsureBudgetRole ensures the role budget enforcement actions assume.
func IamEnsureBudgetRole(ctx context.Context, gw *Gateway, api iamAPI, account, roleName string) (string, error) {
	arn := IamRoleArn(account, roleName)
	exists, err := iamExistsRole(ctx, gw, api, roleName)
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	if exists {
		Logger.Println("role exists:", roleName)
		return arn, nil
	}
	err = iamCreateRole(ctx, gw, api, roleName, iamAssumePolicyDocument("budgets"), "role for budget enforcement actions")
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	err = IamPutRolePolicy(ctx, gw, api, roleName, roleName+"-budget-actions", iamBudgetActionPolicyDocument())
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	if !gw.Preview {
		time.Sleep(iamRolePropagationDelay)
	}
	Logger.Println(PreviewString(gw.Preview)+"created role:", roleName)
	return arn, nil
}
