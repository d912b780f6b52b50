package sth

import (
	"github.com/evergreen-ci/sth-comet/model"
	"github.com/go-playground/validator/v10"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

// Configuration defines every option spec.md §6 recognises. Fields are
// populated by the CLI layer (operations/service.go) from flags bound to the
// exact environment variable names the spec lists. The naming and
// truncation policy types are the model package's canonical definitions,
// since those are what the Namespace Resolver and Collection Provider
// actually consume.
type Configuration struct {
	DBURI              string `validate:"required"`
	DBAuthentication   string
	ReplicaSet         string
	PoolSize           int `validate:"gt=0"`
	DatabaseName       string `validate:"required"`
	DefaultService     string `validate:"required"`
	DefaultServicePath string `validate:"required"`
	STHHost            string
	STHPort            int `validate:"gt=0,lt=65536"`
	ShouldStore        model.StoreMode `validate:"oneof=ONLY_RAW ONLY_AGGREGATED BOTH"`
	IgnoreBlankSpaces  bool
	FilterOutEmpty     bool
	UnicaCorrelatorHdr string
	NameMode           model.NameMode `validate:"oneof=path hash"`
	MaxIDLength        int            `validate:"gt=0"`
	Truncation         model.TruncationPolicy
	NumWorkers         int  `validate:"gt=0"`
	UseLocalQueue      bool
	ScratchDir         string `validate:"required"`
}

// Validate checks the configuration is internally consistent, combining a
// grip.Catcher pass for the handful of cross-field invariants with
// struct-tag validation for the simple required/oneof constraints.
func (c *Configuration) Validate() error {
	catcher := grip.NewBasicCatcher()

	if err := validator.New().Struct(c); err != nil {
		catcher.Add(err)
	}

	if c.Truncation.Mode == model.TruncationAge && c.Truncation.MaxAge <= 0 {
		catcher.New("truncation mode 'age' requires a positive MaxAge")
	}
	if c.Truncation.Mode == model.TruncationSize && c.Truncation.MaxSize <= 0 {
		catcher.New("truncation mode 'size' requires a positive MaxSize")
	}

	if c.UnicaCorrelatorHdr == "" {
		c.UnicaCorrelatorHdr = UnicaCorrelatorHeaderDefault
	}

	return errors.WithStack(catcher.Resolve())
}
