package rest

import (
	"context"
	"time"

	"github.com/evergreen-ci/gimlet"
	"github.com/evergreen-ci/sth-comet"
	dbModel "github.com/evergreen-ci/sth-comet/model"
	"github.com/evergreen-ci/sth-comet/rest/data"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service wires an Environment to a gimlet HTTP application, following the
// teacher's Validate/Start/Stop split.
type Service struct {
	Port   int
	Prefix string
	Env    sth.Environment

	sc  data.Connector
	app *gimlet.APIApp
}

// Validate assembles the gimlet application and its dependent Connector,
// failing fast on any missing dependency.
func (s *Service) Validate() error {
	if s.Env == nil {
		return errors.New("must specify an environment")
	}

	conf, err := s.Env.GetConf()
	if err != nil {
		return errors.Wrap(err, "fetching configuration")
	}

	provider := dbModel.NewProvider(s.Env.GetDB(), &dbModel.Resolver{
		Mode:        conf.NameMode,
		MaxIDLength: conf.MaxIDLength,
	})

	s.sc = data.NewDBConnector(provider, conf.ScratchDir, dbModel.IngestConfig{
		ShouldStore:       conf.ShouldStore,
		IgnoreBlankSpaces: conf.IgnoreBlankSpaces,
		FilterOutEmpty:    conf.FilterOutEmpty,
		StoreHash:         conf.NameMode == dbModel.NameModeHash,
		Truncate:          conf.Truncation,
		SubtaskTimeout:    30 * time.Second,
	})

	if s.app == nil {
		s.app = gimlet.NewApp()
	}
	if s.Port == 0 {
		s.Port = conf.STHPort
	}
	if err := s.app.SetPort(s.Port); err != nil {
		return errors.WithStack(err)
	}
	if s.Prefix != "" {
		s.app.SetPrefix(s.Prefix)
	}

	s.addMiddleware(conf)
	s.addRoutes(conf)

	return nil
}

func (s *Service) addMiddleware(conf *sth.Configuration) {
	s.app.AddMiddleware(newKPIMiddleware())
	s.app.AddMiddleware(newUnicaCorrelatorMiddleware(conf.UnicaCorrelatorHdr))
}

func (s *Service) addRoutes(conf *sth.Configuration) {
	queryRequired := newFiwareHeaderMiddleware("", "", true)
	notifyDefaulted := newFiwareHeaderMiddleware(conf.DefaultService, conf.DefaultServicePath, false)

	s.app.AddRoute("/STH/v1/contextEntities/type/{entityType}/id/{entityId}/attributes/{attrName}").
		Version(1).Get().Wrap(queryRequired).RouteHandler(&sthQueryHandler{sc: s.sc})

	s.app.AddRoute("/notify").
		Version(1).Post().Wrap(notifyDefaulted).RouteHandler(&notifyHandler{sc: s.sc})

	s.app.AddRoute("/version").Version(1).Get().RouteHandler(&versionHandler{})

	s.app.AddRoute("/STH/v1/collections/hash/{hash}").
		Version(1).Get().RouteHandler(&hashOriginHandler{sc: s.sc})

	s.app.AddRoute("/metrics").Get().Handler(promhttp.HandlerFor(sth.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
}

// Start starts the background job queue and runs the HTTP server until ctx
// is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if s.app == nil {
		return errors.New("service is not valid, call Validate first")
	}

	queue, err := s.Env.GetQueue()
	if err != nil {
		return errors.Wrap(err, "fetching queue")
	}
	if err := queue.Start(ctx); err != nil {
		return errors.Wrap(err, "starting queue")
	}

	if err := s.app.Resolve(); err != nil {
		return errors.Wrap(err, "resolving routes")
	}

	return s.app.Run(ctx)
}

// Stop closes the queue and then closes the Environment, which disconnects
// the store client. It does not stop the HTTP server; that ends when the
// context passed to Start is cancelled.
func (s *Service) Stop(ctx context.Context) error {
	catcher := grip.NewBasicCatcher()

	if queue, err := s.Env.GetQueue(); err == nil && queue != nil {
		queue.Close(ctx)
	}

	catcher.Add(s.Env.Close(ctx))

	return errors.WithStack(catcher.Resolve())
}
