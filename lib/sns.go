package lib

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

var snsClient *sns.Client
var snsClientLock sync.Mutex

func SNSClient() *sns.Client {
	snsClientLock.Lock()
	defer snsClientLock.Unlock()
	if snsClient == nil {
		snsClient = sns.NewFromConfig(*Session())
	}
	return snsClient
}

type snsAPI interface {
	GetTopicAttributes(ctx context.Context, params *sns.GetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error)
	CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	ListSubscriptionsByTopic(ctx context.Context, params *sns.ListSubscriptionsByTopicInput, optFns ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error)
}

func SNSArn(region, account, name string) string {
	return fmt.Sprintf("arn:aws:sns:%s:%s:%s", region, account, name)
}

func SNSEnsureTopic(ctx context.Context, gw *Gateway, api snsAPI, region, account, name string) (string, error) {
	arn := SNSArn(region, account, name)
	exists, err := gw.Exists(ctx, "sns.GetTopicAttributes "+name, func(ctx context.Context) error {
		_, err := api.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{
			TopicArn: aws.String(arn),
		})
		return err
	})
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	if exists {
		Logger.Println("sns topic exists:", name)
		return arn, nil
	}
	err = gw.Call(ctx, "sns.CreateTopic "+name, func(ctx context.Context) error {
		_, err := api.CreateTopic(ctx, &sns.CreateTopicInput{
			Name: aws.String(name),
		})
		return err
	})
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	Logger.Println(PreviewString(gw.Preview)+"created sns topic:", name)
	if gw.Preview {
		return SNSArn(region, PreviewAccountID, name), nil
	}
	return arn, nil
}

func snsEndpointSubscribed(ctx context.Context, api snsAPI, topicArn, endpoint string) (bool, error) {
	var nextToken *string
	for {
		out, err := api.ListSubscriptionsByTopic(ctx, &sns.ListSubscriptionsByTopicInput{
			TopicArn:  aws.String(topicArn),
			NextToken: nextToken,
		})
		if err != nil {
			return false, err
		}
		for _, sub := range out.Subscriptions {
			if aws.ToString(sub.Endpoint) == endpoint {
				return true, nil
			}
		}
		if out.NextToken == nil {
			return false, nil
		}
		nextToken = out.NextToken
	}
}

// SNSEnsureEmailSubscription subscribes the address unless an existing
// subscription already targets it. Email subscriptions need out-of-band
// confirmation, resubscribing an unconfirmed address just resends the mail.
func SNSEnsureEmailSubscription(ctx context.Context, gw *Gateway, api snsAPI, topicArn, email string) error {
	subscribed := false
	err := gw.Call(ctx, "sns.ListSubscriptionsByTopic "+topicArn, func(ctx context.Context) error {
		var err error
		subscribed, err = snsEndpointSubscribed(ctx, api, topicArn, email)
		return err
	})
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	if subscribed {
		Logger.Println("email already subscribed:", email)
		return nil
	}
	err = gw.Call(ctx, "sns.Subscribe "+topicArn, func(ctx context.Context) error {
		_, err := api.Subscribe(ctx, &sns.SubscribeInput{
			TopicArn: aws.String(topicArn),
			Protocol: aws.String("email"),
			Endpoint: aws.String(email),
		})
		return err
	})
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	Logger.Println(PreviewString(gw.Preview)+"subscribed email:", email)
	return nil
}
