package lib

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// LambdaDeployContainer creates or updates an image-packaged function and
// returns its arn. Same create-or-update shape as the zip path, the code is
// an ecr image uri instead of zip bytes.
func LambdaDeployContainer(ctx context.Context, gw *Gateway, api lambdaAPI, input *LambdaDeployInput, imageURI string, architectures []lambdatypes.Architecture) (string, error) {
	err := LambdaValidateParams(input.Timeout, input.MemorySize)
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	if len(architectures) == 0 {
		architectures = []lambdatypes.Architecture{lambdatypes.ArchitectureX8664}
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
	code := &lambdatypes.FunctionCode{ImageUri: aws.String(imageURI)}
	if exists {
		return lambdaUpdateFunction(ctx, gw, api, input, code)
	}
	return lambdaCreateFunction(ctx, gw, api, input, code, lambdatypes.PackageTypeImage, architectures)
}
