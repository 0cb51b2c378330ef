package lib

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
)

func fastGateway(preview bool) *Gateway {
	gw := NewGateway(preview)
	gw.Policy = RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	gw.pollInterval = time.Millisecond
	return gw
}

func TestPreviewNeverInvokes(t *testing.T) {
	gw := fastGateway(true)
	ctx := context.Background()
	called := false
	err := gw.Call(ctx, "iam.CreateRole", func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("preview call invoked the function")
	}
	exists, err := gw.Exists(ctx, "iam.GetRole", func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("preview exists should report false")
	}
	err = gw.WaitReady(ctx, "lambda", 20, func(context.Context) (bool, string, error) {
		called = true
		return false, "", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("preview invoked a remote call")
	}
}

func TestExistsMapsNotFound(t *testing.T) {
	gw := fastGateway(false)
	exists, err := gw.Exists(context.Background(), "iam.GetRole", func(context.Context) error {
		return &smithy.GenericAPIError{Code: "NoSuchEntity"}
	})
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("not-found should map to exists=false")
	}
}

func TestExistsTrue(t *testing.T) {
	gw := fastGateway(false)
	exists, err := gw.Exists(context.Background(), "iam.GetRole", func(context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("successful get should map to exists=true")
	}
}

func TestExistsPropagatesOtherErrors(t *testing.T) {
	gw := fastGateway(false)
	calls := 0
	_, err := gw.Exists(context.Background(), "iam.GetRole", func(context.Context) error {
		calls++
		return &smithy.GenericAPIError{Code: "AccessDenied"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("access denied should not retry, got %d calls", calls)
	}
}

func TestCallRetriesTransientErrors(t *testing.T) {
	gw := fastGateway(false)
	calls := 0
	err := gw.Call(context.Background(), "lambda.CreateFunction", func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("got %d calls, want 2", calls)
	}
}

func TestWaitReadySucceeds(t *testing.T) {
	gw := fastGateway(false)
	polls := 0
	err := gw.WaitReady(context.Background(), "lambda", 20, func(context.Context) (bool, string, error) {
		polls++
		return polls >= 3, "", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if polls != 3 {
		t.Errorf("got %d polls, want 3", polls)
	}
}

func TestWaitReadyFailedState(t *testing.T) {
	gw := fastGateway(false)
	err := gw.WaitReady(context.Background(), "lambda", 20, func(context.Context) (bool, string, error) {
		return false, "InsufficientRolePermissions", nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "InsufficientRolePermissions") {
		t.Errorf("error should carry the failure reason, got %v", err)
	}
}

func TestWaitReadyExhaustsPolls(t *testing.T) {
	gw := fastGateway(false)
	polls := 0
	err := gw.WaitReady(context.Background(), "lambda", 5, func(context.Context) (bool, string, error) {
		polls++
		return false, "", nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if polls != 5 {
		t.Errorf("got %d polls, want 5", polls)
	}
}
