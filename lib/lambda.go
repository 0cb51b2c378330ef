package lib

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/dustin/go-humanize"
)

const (
	lambdaTimeoutMin = 1
	lambdaTimeoutMax = 900

	lambdaMemoryMin  = 128
	lambdaMemoryMax  = 10240
	lambdaMemoryStep = 64

	// hard platform ceiling for an unpacked deployment package, plus the
	// direct-upload threshold above which deploys get slow and flaky
	lambdaPackageMaxBytes  = 250 * 1024 * 1024
	lambdaPackageWarnBytes = 50 * 1024 * 1024

	lambdaReadyMaxPolls = 20
)

var lambdaClient *lambda.Client
var lambdaClientLock sync.Mutex

func LambdaClient() *lambda.Client {
	lambdaClientLock.Lock()
	defer lambdaClientLock.Unlock()
	if lambdaClient == nil {
		lambdaClient = lambda.NewFromConfig(*Session())
	}
	return lambdaClient
}

type lambdaAPI interface {
	GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	CreateFunction(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
	UpdateFunctionConfiguration(ctx context.Context, params *lambda.UpdateFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error)
}

func LambdaPreviewArn(region, name string) string {
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", region, PreviewAccountID, name)
}

// LambdaValidateParams rejects out-of-range function parameters locally,
// before any remote call. Never retried.
func LambdaValidateParams(timeout, memorySize int) error {
	if timeout < lambdaTimeoutMin || timeout > lambdaTimeoutMax {
		err := fmt.Errorf("timeout %d must be between %d and %d seconds", timeout, lambdaTimeoutMin, lambdaTimeoutMax)
		Logger.Println("error:", err)
		return err
	}
	if memorySize < lambdaMemoryMin || memorySize > lambdaMemoryMax {
		err := fmt.Errorf("memory size %d must be between %d and %d MB", memorySize, lambdaMemoryMin, lambdaMemoryMax)
		Logger.Println("error:", err)
		return err
	}
	if memorySize%lambdaMemoryStep != 0 {
		err := fmt.Errorf("memory size %d must be a multiple of %d", memorySize, lambdaMemoryStep)
		Logger.Println("error:", err)
		return err
	}
	return nil
}

type LambdaDeployInput struct {
	Name       string
	RoleArn    string
	Handler    string
	Runtime    string
	Timeout    int
	MemorySize int
	Env        map[string]string
	Region     string
}

// LambdaDeployZip creates or updates a zip-packaged function and returns its
// arn. Update is two independent remote calls: code first, then, once the
// code update reaches a terminal state, configuration.
func LambdaDeployZip(ctx context.Context, gw *Gateway, api lambdaAPI, input *LambdaDeployInput, zipPath string) (string, error) {
	err := LambdaValidateParams(input.Timeout, input.MemorySize)
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	if !Exists(zipPath) {
		err := fmt.Errorf("package not found: %s", zipPath)
		Logger.Println("error:", err)
		return "", err
	}
	zipBytes, err := os.ReadFile(zipPath)
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	if len(zipBytes) > lambdaPackageMaxBytes {
		err := fmt.Errorf("package size %s exceeds the %s limit", humanize.Bytes(uint64(len(zipBytes))), humanize.Bytes(lambdaPackageMaxBytes))
		Logger.Println("error:", err)
		return "", err
	}
	if len(zipBytes) > lambdaPackageWarnBytes {
		Logger.Println("package size", humanize.Bytes(uint64(len(zipBytes))), "exceeds the direct upload threshold")
	}
	exists, err := gw.Exists(ctx, "lambda.GetFunction "+input.Name, func(ctx context.Context) error {
		_, err := api.GetFunction(ctx, &lambda.GetFunctionInput{
			FunctionName: aws.String(input.Name),
		})
		return err
	})
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	if exists {
		return lambdaUpdateFunction(ctx, gw, api, input, &lambdatypes.FunctionCode{ZipFile: zipBytes})
	}
	return lambdaCreateFunction(ctx, gw, api, input, &lambdatypes.FunctionCode{ZipFile: zipBytes}, lambdatypes.PackageTypeZip, nil)
}

func lambdaCreateFunction(ctx context.Context, gw *Gateway, api lambdaAPI, input *LambdaDeployInput, code *lambdatypes.FunctionCode, packageType lambdatypes.PackageType, architectures []lambdatypes.Architecture) (string, error) {
	var arn string
	createInput := &lambda.CreateFunctionInput{
		FunctionName: aws.String(input.Name),
		Role:         aws.String(input.RoleArn),
		Code:         code,
		PackageType:  packageType,
		Timeout:      aws.Int32(int32(input.Timeout)),
		MemorySize:   aws.Int32(int32(input.MemorySize)),
		Environment:  &lambdatypes.Environment{Variables: input.Env},
		Tags: map[string]string{
			"ManagedBy": "lambdeploy",
		},
	}
	if packageType == lambdatypes.PackageTypeZip {
		createInput.Handler = aws.String(input.Handler)
		createInput.Runtime = lambdatypes.Runtime(input.Runtime)
	} else {
		createInput.Architectures = architectures
	}
	err := gw.Call(ctx, "lambda.CreateFunction "+input.Name, func(ctx context.Context) error {
		out, err := api.CreateFunction(ctx, createInput)
		if err != nil {
			return err
		}
		arn = *out.FunctionArn
		return nil
	})
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	err = LambdaWaitActive(ctx, gw, api, input.Name)
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	Logger.Println(PreviewString(gw.Preview)+"created function:", input.Name)
	if gw.Preview {
		return LambdaPreviewArn(input.Region, input.Name), nil
	}
	return arn, nil
}

func lambdaUpdateFunction(ctx context.Context, gw *Gateway, api lambdaAPI, input *LambdaDeployInput, code *lambdatypes.FunctionCode) (string, error) {
	var arn string
	err := gw.Call(ctx, "lambda.UpdateFunctionCode "+input.Name, func(ctx context.Context) error {
		out, err := api.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
			FunctionName: aws.String(input.Name),
			ZipFile:      code.ZipFile,
			ImageUri:     code.ImageUri,
		})
		if err != nil {
			return err
		}
		arn = *out.FunctionArn
		return nil
	})
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	err = LambdaWaitUpdated(ctx, gw, api, input.Name)
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	err = gw.Call(ctx, "lambda.UpdateFunctionConfiguration "+input.Name, func(ctx context.Context) error {
		_, err := api.UpdateFunctionConfiguration(ctx, &lambda.UpdateFunctionConfigurationInput{
			FunctionName: aws.String(input.Name),
			Timeout:      aws.Int32(int32(input.Timeout)),
			MemorySize:   aws.Int32(int32(input.MemorySize)),
			Environment:  &lambdatypes.Environment{Variables: input.Env},
		})
		return err
	})
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	Logger.Println(PreviewString(gw.Preview)+"updated function:", input.Name)
	if gw.Preview {
		return LambdaPreviewArn(input.Region, input.Name), nil
	}
	return arn, nil
}

func LambdaWaitActive(ctx context.Context, gw *Gateway, api lambdaAPI, name string) error {
	return gw.WaitReady(ctx, "lambda function "+name, lambdaReadyMaxPolls, func(ctx context.Context) (bool, string, error) {
		out, err := api.GetFunction(ctx, &lambda.GetFunctionInput{
			FunctionName: aws.String(name),
		})
		if err != nil {
			return false, "", err
		}
		switch out.Configuration.State {
		case lambdatypes.StateActive:
			return true, "", nil
		case lambdatypes.StateFailed:
			return false, aws.ToString(out.Configuration.StateReason), nil
		default:
			return false, "", nil
		}
	})
}

func LambdaWaitUpdated(ctx context.Context, gw *Gateway, api lambdaAPI, name string) error {
	return gw.WaitReady(ctx, "lambda function update "+name, lambdaReadyMaxPolls, func(ctx context.Context) (bool, string, error) {
		out, err := api.GetFunction(ctx, &lambda.GetFunctionInput{
			FunctionName: aws.String(name),
		})
		if err != nil {
			return false, "", err
		}
		switch out.Configuration.LastUpdateStatus {
		case lambdatypes.LastUpdateStatusSuccessful:
			return true, "", nil
		case lambdatypes.LastUpdateStatusFailed:
			return false, aws.ToString(out.Configuration.LastUpdateStatusReason), nil
		default:
			return false, "", nil
		}
	})
}
