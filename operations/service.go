package operations

import (
	"context"
	"time"

	"github.com/evergreen-ci/sth-comet"
	dbModel "github.com/evergreen-ci/sth-comet/model"
	"github.com/evergreen-ci/sth-comet/rest"
	"github.com/evergreen-ci/sth-comet/units"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Service returns the ./sth service sub-command, which configures the
// environment from flags/environment variables and runs the HTTP API until
// interrupted.
func Service() cli.Command {
	return cli.Command{
		Name:  "service",
		Usage: "run the short time historic service",
		Flags: serviceFlags(),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			conf, err := confFromFlags(c)
			if err != nil {
				return errors.Wrap(err, "building configuration from flags")
			}

			env := sth.GetEnvironment()
			if err := env.Configure(ctx, conf); err != nil {
				return errors.Wrap(err, "configuring environment")
			}

			service := &rest.Service{
				Port: conf.STHPort,
				Env:  env,
			}
			if err := service.Validate(); err != nil {
				return errors.Wrap(err, "validating service")
			}

			if err := units.StartCrons(ctx, env); err != nil {
				return errors.Wrap(err, "starting background jobs")
			}

			grip.Noticef("starting sth service on :%d", conf.STHPort)
			err = service.Start(ctx)
			grip.Info("sth service terminating")

			return errors.Wrap(err, "running service")
		},
	}
}

func serviceFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "dbUri", Usage: "mongodb connection string", Value: "mongodb://localhost:27017", EnvVar: "DB_URI"},
		cli.StringFlag{Name: "dbAuthentication", Usage: "mongodb authentication database (not applied when connecting; only dbUri configures authentication)", EnvVar: "DB_AUTHENTICATION"},
		cli.StringFlag{Name: "replicaSet", Usage: "mongodb replica set name", EnvVar: "REPLICA_SET"},
		cli.IntFlag{Name: "poolSize", Usage: "connection pool size", Value: 20, EnvVar: "POOL_SIZE"},
		cli.StringFlag{Name: "dbName", Usage: "database name", Value: "sth", EnvVar: "DB_NAME"},
		cli.StringFlag{Name: "defaultService", Usage: "fallback fiware-service header value", Value: "default_service", EnvVar: "DEFAULT_SERVICE"},
		cli.StringFlag{Name: "defaultServicePath", Usage: "fallback fiware-servicepath header value", Value: "/", EnvVar: "DEFAULT_SERVICE_PATH"},
		cli.StringFlag{Name: "sthHost", Usage: "host the service binds to (not applied; the listener is configured by sthPort only)", EnvVar: "STH_HOST"},
		cli.IntFlag{Name: "sthPort", Usage: "port the service binds to", Value: 8666, EnvVar: "STH_PORT"},
		cli.StringFlag{Name: "shouldStore", Usage: "ONLY_RAW, ONLY_AGGREGATED, or BOTH", Value: string(dbModel.StoreBoth), EnvVar: "SHOULD_STORE"},
		cli.BoolFlag{Name: "ignoreBlankSpaces", Usage: "trim surrounding whitespace before filterOutEmpty's blank-string check", EnvVar: "IGNORE_BLANK_SPACES"},
		cli.BoolFlag{Name: "filterOutEmpty", Usage: "drop empty-string attribute values on ingest (aggregate query results omit zero-sample points regardless of this flag)", EnvVar: "FILTER_OUT_EMPTY"},
		cli.StringFlag{Name: "unicaCorrelatorHeader", Usage: "header name echoed back on query responses", Value: sth.UnicaCorrelatorHeaderDefault, EnvVar: "UNICA_CORRELATOR_HEADER"},
		cli.StringFlag{Name: "nameMode", Usage: "path or hash collection-naming mode", Value: string(dbModel.NameModePath), EnvVar: "NAME_MODE"},
		cli.IntFlag{Name: "maxIdLength", Usage: "maximum length of a path-mode collection name", Value: 50, EnvVar: "MAX_ID_LENGTH"},
		cli.StringFlag{Name: "truncationMode", Usage: "none, age, or size", Value: string(dbModel.TruncationNone), EnvVar: "TRUNCATION_MODE"},
		cli.DurationFlag{Name: "truncationMaxAge", Usage: "maximum document age under age-mode truncation", EnvVar: "TRUNCATION_MAX_AGE"},
		cli.Int64Flag{Name: "truncationMaxSize", Usage: "maximum document count under size-mode truncation", EnvVar: "TRUNCATION_MAX_SIZE"},
		cli.IntFlag{Name: "numWorkers", Usage: "number of background job workers", Value: 2, EnvVar: "NUM_WORKERS"},
		cli.BoolFlag{Name: "localQueue", Usage: "use an in-memory queue rather than a mongodb-backed one", EnvVar: "LOCAL_QUEUE"},
		cli.StringFlag{Name: "scratchDir", Usage: "directory used for CSV export scratch files", Value: "/tmp/sth-scratch", EnvVar: "SCRATCH_DIR"},
	}
}

func confFromFlags(c *cli.Context) (*sth.Configuration, error) {
	conf := &sth.Configuration{
		DBURI:              c.String("dbUri"),
		DBAuthentication:   c.String("dbAuthentication"),
		ReplicaSet:         c.String("replicaSet"),
		PoolSize:           c.Int("poolSize"),
		DatabaseName:       c.String("dbName"),
		DefaultService:     c.String("defaultService"),
		DefaultServicePath: c.String("defaultServicePath"),
		STHHost:            c.String("sthHost"),
		STHPort:            c.Int("sthPort"),
		ShouldStore:        dbModel.StoreMode(c.String("shouldStore")),
		IgnoreBlankSpaces:  c.Bool("ignoreBlankSpaces"),
		FilterOutEmpty:     c.Bool("filterOutEmpty"),
		UnicaCorrelatorHdr: c.String("unicaCorrelatorHeader"),
		NameMode:           dbModel.NameMode(c.String("nameMode")),
		MaxIDLength:        c.Int("maxIdLength"),
		Truncation: dbModel.TruncationPolicy{
			Mode:    dbModel.TruncationMode(c.String("truncationMode")),
			MaxAge:  c.Duration("truncationMaxAge"),
			MaxSize: c.Int64("truncationMaxSize"),
		},
		NumWorkers:    c.Int("numWorkers"),
		UseLocalQueue: c.Bool("localQueue"),
		ScratchDir:    c.String("scratchDir"),
	}

	if conf.Truncation.Mode == dbModel.TruncationAge && conf.Truncation.MaxAge == 0 {
		conf.Truncation.MaxAge = 24 * time.Hour
	}

	return conf, errors.WithStack(conf.Validate())
}
