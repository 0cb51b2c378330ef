package lib

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/budgets"
	budgettypes "github.com/aws/aws-sdk-go-v2/service/budgets/types"
	"github.com/r3labs/diff/v2"
)

const (
	budgetWarnThresholdPercent    = 80
	budgetEnforceThresholdPercent = 100
)

var budgetClient *budgets.Client
var budgetClientLock sync.Mutex

func BudgetClient() *budgets.Client {
	budgetClientLock.Lock()
	defer budgetClientLock.Unlock()
	if budgetClient == nil {
		// the budgets api is global and lives in us-east-1
		budgetClient = budgets.NewFromConfig(*SessionRegion("us-east-1"))
	}
	return budgetClient
}

type budgetAPI interface {
	DescribeBudget(ctx context.Context, params *budgets.DescribeBudgetInput, optFns ...func(*budgets.Options)) (*budgets.DescribeBudgetOutput, error)
	CreateBudget(ctx context.Context, params *budgets.CreateBudgetInput, optFns ...func(*budgets.Options)) (*budgets.CreateBudgetOutput, error)
	UpdateBudget(ctx context.Context, params *budgets.UpdateBudgetInput, optFns ...func(*budgets.Options)) (*budgets.UpdateBudgetOutput, error)
}

func budgetDefinition(name string, limit float64) *budgettypes.Budget {
	return &budgettypes.Budget{
		BudgetName: aws.String(name),
		BudgetLimit: &budgettypes.Spend{
			Amount: aws.String(strconv.FormatFloat(limit, 'f', 2, 64)),
			Unit:   aws.String("USD"),
		},
		CostFilters: map[string][]string{
			"Service": {"AWS Lambda", "Amazon EventBridge Scheduler"},
		},
		CostTypes: &budgettypes.CostTypes{
			IncludeCredit:            aws.Bool(false),
			IncludeDiscount:          aws.Bool(true),
			IncludeOtherSubscription: aws.Bool(true),
			IncludeRecurring:         aws.Bool(true),
			IncludeRefund:            aws.Bool(false),
			IncludeSubscription:      aws.Bool(true),
			IncludeSupport:           aws.Bool(true),
			IncludeTax:               aws.Bool(true),
			IncludeUpfront:           aws.Bool(true),
			UseBlended:               aws.Bool(false),
		},
		TimeUnit:   budgettypes.TimeUnitMonthly,
		BudgetType: budgettypes.BudgetTypeCost,
	}
}

// budgetNotifications returns the two fixed thresholds: a warning at 80% of
// the limit and the enforcement notification at 100%.
func budgetNotifications(topicArn string) []budgettypes.NotificationWithSubscribers {
	var notifications []budgettypes.NotificationWithSubscribers
	for _, threshold := range []float64{budgetWarnThresholdPercent, budgetEnforceThresholdPercent} {
		notifications = append(notifications, budgettypes.NotificationWithSubscribers{
			Notification: &budgettypes.Notification{
				NotificationType:   budgettypes.NotificationTypeActual,
				ComparisonOperator: budgettypes.ComparisonOperatorGreaterThan,
				Threshold:          threshold,
				ThresholdType:      budgettypes.ThresholdTypePercentage,
			},
			Subscribers: []budgettypes.Subscriber{{
				SubscriptionType: budgettypes.SubscriptionTypeSns,
				Address:          aws.String(topicArn),
			}},
		})
	}
	return notifications
}

type budgetComparable struct {
	Amount   string
	Unit     string
	TimeUnit string
}

func budgetToComparable(b *budgettypes.Budget) budgetComparable {
	c := budgetComparable{
		TimeUnit: string(b.TimeUnit),
	}
	if b.BudgetLimit != nil {
		c.Amount = aws.ToString(b.BudgetLimit.Amount)
		c.Unit = aws.ToString(b.BudgetLimit.Unit)
	}
	return c
}

// BudgetEnsure creates the budget if absent, else updates it in place when
// the live definition drifted from the desired one. Budgets are the one
// resource kind here that supports update, limits change over time.
func BudgetEnsure(ctx context.Context, gw *Gateway, api budgetAPI, account, name string, limit float64, topicArn string) error {
	desired := budgetDefinition(name, limit)
	var current *budgettypes.Budget
	exists, err := gw.Exists(ctx, "budgets.DescribeBudget "+name, func(ctx context.Context) error {
		out, err := api.DescribeBudget(ctx, &budgets.DescribeBudgetInput{
			AccountId:  aws.String(account),
			BudgetName: aws.String(name),
		})
		if err != nil {
			return err
		}
		current = out.Budget
		return nil
	})
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	if exists {
		changes, err := diff.Diff(budgetToComparable(current), budgetToComparable(desired))
		if err != nil {
			Logger.Println("error:", err)
			return err
		}
		if len(changes) == 0 {
			Logger.Println("budget unchanged:", name)
			return nil
		}
		for _, change := range changes {
			Logger.Println(PreviewString(gw.Preview)+"budget drift:", change.Path, change.From, "=>", change.To)
		}
		err = gw.Call(ctx, "budgets.UpdateBudget "+name, func(ctx context.Context) error {
			_, err := api.UpdateBudget(ctx, &budgets.UpdateBudgetInput{
				AccountId: aws.String(account),
				NewBudget: desired,
			})
			return err
		})
		if err != nil {
			Logger.Println("error:", err)
			return err
		}
		Logger.Println(PreviewString(gw.Preview)+"updated budget:", name)
		return nil
	}
	err = gw.Call(ctx, "budgets.CreateBudget "+name, func(ctx context.Context) error {
		_, err := api.CreateBudget(ctx, &budgets.CreateBudgetInput{
			AccountId:                    aws.String(account),
			Budget:                       desired,
			NotificationsWithSubscribers: budgetNotifications(topicArn),
		})
		return err
	})
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	Logger.Println(PreviewString(gw.Preview)+"created budget:", name)
	return nil
}

// BudgetSetup wires the alert path end to end: alert topic, email
// subscription, then the budget itself.
func BudgetSetup(ctx context.Context, gw *Gateway, snsApi snsAPI, budgetApi budgetAPI, region, account, name string, limit float64, email string) error {
	if email == "" {
		err := fmt.Errorf("budget alert email not configured")
		Logger.Println("error:", err)
		return err
	}
	topicArn, err := SNSEnsureTopic(ctx, gw, snsApi, region, account, name+"-alerts")
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	err = SNSEnsureEmailSubscription(ctx, gw, snsApi, topicArn, email)
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	err = BudgetEnsure(ctx, gw, budgetApi, account, name, limit, topicArn)
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	Logger.Printf("budget thresholds: %d%% email warning, %d%% enforcement\n", budgetWarnThresholdPercent, budgetEnforceThresholdPercent)
	return nil
}
