package lib

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

var ssmClient *ssm.Client
var ssmClientLock sync.Mutex

func SSMClient() *ssm.Client {
	ssmClientLock.Lock()
	defer ssmClientLock.Unlock()
	if ssmClient == nil {
		ssmClient = ssm.NewFromConfig(*Session())
	}
	return ssmClient
}

type ssmAPI interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SsmPutSecret stores secret material for the function as an encrypted
// parameter, overwriting any previous value.
func SsmPutSecret(ctx context.Context, gw *Gateway, api ssmAPI, name, value string) error {
	err := gw.Call(ctx, "ssm.PutParameter "+name, func(ctx context.Context) error {
		_, err := api.PutParameter(ctx, &ssm.PutParameterInput{
			Name:        aws.String(name),
			Value:       aws.String(value),
			Type:        ssmtypes.ParameterTypeSecureString,
			Overwrite:   aws.Bool(true),
			Description: aws.String("secret material for lambda function"),
		})
		return err
	})
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	Logger.Println(PreviewString(gw.Preview)+"stored secret parameter:", name)
	return nil
}

func SsmParameterExists(ctx context.Context, gw *Gateway, api ssmAPI, name string) (bool, error) {
	return gw.Exists(ctx, "ssm.GetParameter "+name, func(ctx context.Context) error {
		_, err := api.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(name),
			WithDecryption: aws.Bool(true),
		})
		return err
	})
}
