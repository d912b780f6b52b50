package sth

import (
	"context"
	"sync"

	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/queue"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var globalEnv *envState

func init() { resetEnv() }

// GetEnvironment returns the process-wide Environment.
func GetEnvironment() Environment { return globalEnv }

func resetEnv() { globalEnv = &envState{name: "global", conf: &Configuration{}} }

// Environment objects provide access to the shared document-store client,
// configuration, and background-job queue. Every model operation that talks
// to the store takes one of these rather than reaching for a package
// global, so that tests can substitute an isolated instance.
type Environment interface {
	Configure(ctx context.Context, conf *Configuration) error
	GetDB() *mongo.Database
	GetClient() *mongo.Client
	GetConf() (*Configuration, error)
	GetQueue() (amboy.Queue, error)
	SetQueue(amboy.Queue) error
	Context() (context.Context, context.CancelFunc)
	Close(ctx context.Context) error
}

type envState struct {
	name   string
	queue  amboy.Queue
	client *mongo.Client
	db     *mongo.Database
	conf   *Configuration
	mutex  sync.RWMutex
}

func (c *envState) Configure(ctx context.Context, conf *Configuration) error {
	if err := conf.Validate(); err != nil {
		return errors.WithStack(err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.conf = conf

	clientOpts := options.Client().ApplyURI(conf.DBURI).SetMaxPoolSize(uint64(conf.PoolSize)).SetConnectTimeout(DefaultDialTimeout)
	if conf.ReplicaSet != "" {
		clientOpts.SetReplicaSet(conf.ReplicaSet)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return errors.Wrapf(err, "connecting to db %s", conf.DBURI)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return errors.Wrap(err, "pinging db after connect")
	}

	c.client = client
	c.db = client.Database(conf.DatabaseName)

	if conf.UseLocalQueue {
		c.queue = queue.NewLocalLimitedSize(conf.NumWorkers, 1024)
		grip.Info(message.Fields{
			"message": "configured local queue",
			"workers": conf.NumWorkers,
		})
	} else {
		q := queue.NewRemoteUnordered(conf.NumWorkers)
		opts := queue.MongoDBOptions{
			URI:      conf.DBURI,
			DB:       conf.DatabaseName,
			Priority: true,
		}
		driver := queue.NewMongoDBDriver(QueueName, opts)
		if err := q.SetDriver(driver); err != nil {
			return errors.Wrap(err, "configuring mongodb queue driver")
		}
		c.queue = q
		grip.Info(message.Fields{
			"message":  "configured a remote mongodb-backed queue",
			"db":       conf.DatabaseName,
			"prefix":   QueueName,
			"priority": true,
		})
	}

	return nil
}

func (c *envState) GetDB() *mongo.Database {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.db
}

func (c *envState) GetClient() *mongo.Client {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.client
}

func (c *envState) GetConf() (*Configuration, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.conf == nil {
		return nil, errors.New("configuration is not set")
	}

	out := &Configuration{}
	*out = *c.conf
	return out, nil
}

func (c *envState) SetQueue(q amboy.Queue) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.queue != nil {
		return errors.New("queue already configured, cannot overwrite")
	}
	if q == nil {
		return errors.New("cannot set a nil queue")
	}

	c.queue = q
	grip.Notice(message.Fields{
		"message": "cached queue in environment",
		"type":    q,
	})
	return nil
}

func (c *envState) GetQueue() (amboy.Queue, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.queue == nil {
		return nil, errors.New("no queue defined in the environment")
	}
	return c.queue, nil
}

func (c *envState) Context() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

func (c *envState) Close(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	catcher := grip.NewBasicCatcher()
	if c.queue != nil {
		c.queue.Close(ctx)
	}
	if c.client != nil {
		catcher.Add(c.client.Disconnect(ctx))
	}

	return errors.WithStack(catcher.Resolve())
}
