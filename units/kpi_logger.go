package units

import (
	"context"
	"fmt"

	"github.com/evergreen-ci/sth-comet"
	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/dependency"
	"github.com/mongodb/amboy/job"
	"github.com/mongodb/amboy/registry"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
)

const kpiLoggerJobName = "sth-kpi-logger"

func init() {
	registry.AddJobType(kpiLoggerJobName, func() amboy.Job { return makeKPILogger() })
}

// kpiLoggerJob periodically logs the process-wide KPI counters, per
// spec.md §4.7.
type kpiLoggerJob struct {
	job.Base `bson:"job_base" json:"job_base" yaml:"job_base"`
}

// NewKPILoggerJob builds a kpiLoggerJob with a unique id.
func NewKPILoggerJob(id string) amboy.Job {
	j := makeKPILogger()
	j.SetID(fmt.Sprintf("%s-%s", kpiLoggerJobName, id))
	return j
}

func makeKPILogger() *kpiLoggerJob {
	j := &kpiLoggerJob{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    kpiLoggerJobName,
				Version: 0,
			},
		},
	}
	j.SetDependency(dependency.NewAlways())
	return j
}

func (j *kpiLoggerJob) Run(ctx context.Context) {
	defer j.MarkComplete()

	grip.Info(message.Fields{
		"message":          "sth kpi snapshot",
		"attendedRequests": sth.GetKPI().AttendedRequests(),
	})
}
