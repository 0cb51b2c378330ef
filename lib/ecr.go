package lib

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
)

var ecrClient *ecr.Client
var ecrClientLock sync.Mutex

func EcrClient() *ecr.Client {
	ecrClientLock.Lock()
	defer ecrClientLock.Unlock()
	if ecrClient == nil {
		ecrClient = ecr.NewFromConfig(*Session())
	}
	return ecrClient
}

type ecrAPI interface {
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

func EcrPreviewRepoURI(region, repoName string) string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s", PreviewAccountID, region, repoName)
}

// EcrEnsureRepo ensures the image repository exists and returns its uri.
func EcrEnsureRepo(ctx context.Context, gw *Gateway, api ecrAPI, region, repoName string) (string, error) {
	if gw.Preview {
		uri := EcrPreviewRepoURI(region, repoName)
		Logger.Println(PreviewString(true)+"ensure ecr repository:", repoName)
		return uri, nil
	}
	var uri string
	exists, err := gw.Exists(ctx, "ecr.DescribeRepositories "+repoName, func(ctx context.Context) error {
		out, err := api.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
			RepositoryNames: []string{repoName},
		})
		if err != nil {
			return err
		}
		uri = *out.Repositories[0].RepositoryUri
		return nil
	})
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	if exists {
		Logger.Println("ecr repository exists:", uri)
		return uri, nil
	}
	err = gw.Call(ctx, "ecr.CreateRepository "+repoName, func(ctx context.Context) error {
		out, err := api.CreateRepository(ctx, &ecr.CreateRepositoryInput{
			RepositoryName:     aws.String(repoName),
			ImageTagMutability: ecrtypes.ImageTagMutabilityMutable,
			ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
				ScanOnPush: true,
			},
		})
		if err != nil {
			return err
		}
		uri = *out.Repository.RepositoryUri
		return nil
	})
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	Logger.Println("created ecr repository:", uri)
	return uri, nil
}

type EcrAuth struct {
	Username string
	Password string
	Registry string
}

// EcrAuthToken decodes the registry authorization token for docker login.
func EcrAuthToken(ctx context.Context, gw *Gateway, api ecrAPI, region string) (*EcrAuth, error) {
	if gw.Preview {
		Logger.Println(PreviewString(true) + "get ecr authorization token")
		return &EcrAuth{
			Username: "AWS",
			Password: "preview-token",
			Registry: fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", PreviewAccountID, region),
		}, nil
	}
	var auth *EcrAuth
	err := gw.Call(ctx, "ecr.GetAuthorizationToken", func(ctx context.Context) error {
		out, err := api.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
		if err != nil {
			return err
		}
		if len(out.AuthorizationData) == 0 {
			return fmt.Errorf("no ecr authorization data returned")
		}
		data := out.AuthorizationData[0]
		token, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
		if err != nil {
			return err
		}
		username, password, err := SplitOnce(string(token), ":")
		if err != nil {
			return err
		}
		auth = &EcrAuth{
			Username: username,
			Password: password,
			Registry: strings.TrimPrefix(aws.ToString(data.ProxyEndpoint), "https://"),
		}
		return nil
	})
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	return auth, nil
}
