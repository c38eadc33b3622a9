package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DryRun 执行一次完整周期但不提交，打印将要发布的消息。
func (a *App) DryRun(ctx context.Context, opts DryRunOptions) error {
	f, err := a.buildFeed(ctx, nil, nil, true)
	if err != nil {
		return err
	}
	defer f.close()

	if !opts.SkipHistory {
		if err := f.svc.Start(ctx); err != nil {
			return err
		}
	}

	cycle, err := f.svc.RunCycle(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if len(cycle.Record.Values) == 0 {
		fmt.Fprintf(os.Stdout, "cycle %s produced nothing to publish (%d values gathered)\n", cycle.ID, len(cycle.Gathered))
		return nil
	}

	out := map[string]any{
		"cycle_id": cycle.ID,
		"identity": f.identity,
		"message":  cycle.Record.Message(a.Config.Feed.AppTag),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
