package units

import (
	"context"
	"fmt"
	"time"

	"github.com/evergreen-ci/sth-comet"
	dbModel "github.com/evergreen-ci/sth-comet/model"
	"github.com/mongodb/amboy"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const tsFormat = "2006-01-02.15-04-05"

// StartCrons registers the periodic background work the service needs
// regardless of incoming traffic: a KPI snapshot logger and, for every
// collection created under a size-mode TruncationPolicy, a periodic sweep
// that bounds it to its configured document count.
func StartCrons(ctx context.Context, env sth.Environment) error {
	queue, err := env.GetQueue()
	if err != nil {
		return errors.Wrap(err, "fetching queue")
	}

	opts := amboy.QueueOperationConfig{
		ContinueOnError: true,
		LogErrors:       false,
		DebugLogging:    false,
	}

	amboy.IntervalQueueOperation(ctx, queue, time.Minute, time.Now(), opts, func(ctx context.Context, queue amboy.Queue) error {
		ts := time.Now().Format(tsFormat)
		return queue.Put(ctx, NewKPILoggerJob(ts))
	})

	amboy.IntervalQueueOperation(ctx, queue, 10*time.Minute, time.Now(), opts, func(ctx context.Context, queue amboy.Queue) error {
		return enqueueSizeTruncationSweep(ctx, env, queue)
	})

	grip.Info(message.Fields{
		"message": "started background cron jobs",
	})

	return nil
}

func enqueueSizeTruncationSweep(ctx context.Context, env sth.Environment, queue amboy.Queue) error {
	db := env.GetDB()
	provider := dbModel.NewProvider(db, nil)

	policies, err := provider.ListSizeTruncationPolicies(ctx)
	if err != nil {
		return errors.Wrap(err, "listing size truncation policies")
	}

	ts := time.Now().Format(tsFormat)
	catcher := grip.NewBasicCatcher()
	for _, policy := range policies {
		id := fmt.Sprintf("%s-%s", policy.CollectionName, ts)
		catcher.Add(queue.Put(ctx, NewTruncationJob(id, db, policy.CollectionName, policy.TimeField, policy.MaxSize)))
	}
	return catcher.Resolve()
}
