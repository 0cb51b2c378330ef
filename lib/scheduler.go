package lib

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	schedulertypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/gofrs/uuid"
)

// schedules tolerate a short flexible invocation window
const scheduleWindowMinutes = 5

var schedulerClient *scheduler.Client
var schedulerClientLock sync.Mutex

func SchedulerClient() *scheduler.Client {
	schedulerClientLock.Lock()
	defer schedulerClientLock.Unlock()
	if schedulerClient == nil {
		schedulerClient = scheduler.NewFromConfig(*Session())
	}
	return schedulerClient
}

type schedulerAPI interface {
	GetSchedule(ctx context.Context, params *scheduler.GetScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.GetScheduleOutput, error)
	CreateSchedule(ctx context.Context, params *scheduler.CreateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error)
	UpdateSchedule(ctx context.Context, params *scheduler.UpdateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.UpdateScheduleOutput, error)
}

type ScheduleInput struct {
	Name        string
	Expression  string
	Timezone    string
	TargetArn   string
	RoleArn     string
	Description string
}

// scheduleTimezone applies only to calendar-style expressions, rate
// expressions have no timezone
func scheduleTimezone(input *ScheduleInput) *string {
	if input.Timezone != "" && strings.HasPrefix(input.Expression, "cron(") {
		return aws.String(input.Timezone)
	}
	return nil
}

// SchedulerEnsure creates or updates the schedule. Schedules are expected to
// be edited over time, so unlike roles they do get updated in place.
func SchedulerEnsure(ctx context.Context, gw *Gateway, api schedulerAPI, input *ScheduleInput) error {
	exists, err := gw.Exists(ctx, "scheduler.GetSchedule "+input.Name, func(ctx context.Context) error {
		_, err := api.GetSchedule(ctx, &scheduler.GetScheduleInput{
			Name: aws.String(input.Name),
		})
		return err
	})
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	target := &schedulertypes.Target{
		Arn:     aws.String(input.TargetArn),
		RoleArn: aws.String(input.RoleArn),
	}
	window := &schedulertypes.FlexibleTimeWindow{
		Mode:                   schedulertypes.FlexibleTimeWindowModeFlexible,
		MaximumWindowInMinutes: aws.Int32(scheduleWindowMinutes),
	}
	var description *string
	if input.Description != "" {
		description = aws.String(input.Description)
	}
	if exists {
		err := gw.Call(ctx, "scheduler.UpdateSchedule "+input.Name, func(ctx context.Context) error {
			_, err := api.UpdateSchedule(ctx, &scheduler.UpdateScheduleInput{
				Name:                       aws.String(input.Name),
				ScheduleExpression:         aws.String(input.Expression),
				ScheduleExpressionTimezone: scheduleTimezone(input),
				Target:                     target,
				FlexibleTimeWindow:         window,
				Description:                description,
			})
			return err
		})
		if err != nil {
			Logger.Println("error:", err)
			return err
		}
		Logger.Println(PreviewString(gw.Preview)+"updated schedule:", input.Name, input.Expression)
		return nil
	}
	err = gw.Call(ctx, "scheduler.CreateSchedule "+input.Name, func(ctx context.Context) error {
		_, err := api.CreateSchedule(ctx, &scheduler.CreateScheduleInput{
			Name:                       aws.String(input.Name),
			ScheduleExpression:         aws.String(input.Expression),
			ScheduleExpressionTimezone: scheduleTimezone(input),
			Target:                     target,
			FlexibleTimeWindow:         window,
			Description:                description,
			ClientToken:                aws.String(uuid.Must(uuid.NewV4()).String()),
		})
		return err
	})
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	Logger.Println(PreviewString(gw.Preview)+"created schedule:", input.Name, input.Expression)
	return nil
}
