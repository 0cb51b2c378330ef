package lib

import (
	"context"
	"fmt"
	"time"
)

// PreviewAccountID is the sentinel account embedded in every synthetic arn
// returned while previewing, so preview output is deterministic.
const PreviewAccountID = "000000000000"

const waitPollInterval = 2 * time.Second

// Gateway is the sole chokepoint for remote calls. It owns the retry policy
// and the preview switch: while previewing no call function is ever invoked,
// the intended call is logged instead.
type Gateway struct {
	Preview      bool
	Policy       RetryPolicy
	pollInterval time.Duration
}

func NewGateway(preview bool) *Gateway {
	return &Gateway{
		Preview:      preview,
		Policy:       DefaultRetryPolicy,
		pollInterval: waitPollInterval,
	}
}

func (g *Gateway) Call(ctx context.Context, name string, fn func(context.Context) error) error {
	return g.CallPolicy(ctx, name, g.Policy, fn)
}

func (g *Gateway) CallPolicy(ctx context.Context, name string, policy RetryPolicy, fn func(context.Context) error) error {
	if g.Preview {
		Logger.Println(PreviewString(true)+"call:", name)
		return nil
	}
	err := policy.Do(ctx, func() error {
		return fn(ctx)
	})
	if err != nil {
		Logger.Println("error:", name+":", err)
		return err
	}
	return nil
}

// Exists runs a get-shaped call and maps not-found errors to false. Any
// other error propagates. While previewing it reports false without calling,
// so preview runs log the create path.
func (g *Gateway) Exists(ctx context.Context, name string, fn func(context.Context) error) (bool, error) {
	if g.Preview {
		Logger.Println(PreviewString(true)+"exists:", name)
		return false, nil
	}
	missing := false
	err := g.Policy.Do(ctx, func() error {
		err := fn(ctx)
		if err != nil {
			if IsNotFound(err) {
				missing = true
				return nil
			}
			return err
		}
		missing = false
		return nil
	})
	if err != nil {
		Logger.Println("error:", name+":", err)
		return false, err
	}
	return !missing, nil
}

// ReadyCheck reports whether a resource reached its ready terminal state. A
// non-empty reason means the resource reached a failed terminal state.
type ReadyCheck func(ctx context.Context) (ready bool, reason string, err error)

func (g *Gateway) WaitReady(ctx context.Context, name string, maxPolls int, check ReadyCheck) error {
	if g.Preview {
		Logger.Println(PreviewString(true)+"wait:", name)
		return nil
	}
	for i := 0; i < maxPolls; i++ {
		ready, reason, err := check(ctx)
		if err != nil {
			Logger.Println("error:", name+":", err)
			return err
		}
		if reason != "" {
			err := fmt.Errorf("%s reached failed state: %s", name, reason)
			Logger.Println("error:", err)
			return err
		}
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.pollInterval):
		}
	}
	err := fmt.Errorf("%s not ready after %d polls", name, maxPolls)
	Logger.Println("error:", err)
	return err
}
