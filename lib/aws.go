package lib

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

var sess *aws.Config
var sessLock sync.Mutex

// Session loads the default aws config once. SDK-internal retries are
// disabled, every remote call is retried by Retry instead.
func Session() *aws.Config {
	sessLock.Lock()
	defer sessLock.Unlock()
	if sess == nil {
		cfg, err := config.LoadDefaultConfig(
			context.Background(),
			config.WithRetryer(func() aws.Retryer {
				return aws.NopRetryer{}
			}),
		)
		if err != nil {
			panic(err)
		}
		sess = &cfg
	}
	return sess
}

func SessionExplicit(accessKeyID, accessKeySecret, region string) *aws.Config {
	cfg, err := config.LoadDefaultConfig(
		context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, accessKeySecret, "")),
		config.WithRetryer(func() aws.Retryer {
			return aws.NopRetryer{}
		}),
	)
	if err != nil {
		panic(err)
	}
	return &cfg
}

func SessionRegion(region string) *aws.Config {
	cfg := Session().Copy()
	cfg.Region = region
	return &cfg
}

func Region() string {
	return Session().Region
}
