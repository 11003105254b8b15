// Package janitor schedules the nightly maintenance sweep: purging read
// notifications and expired auth rows, then rebuilding the search index.
package janitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 5 * time.Minute

// Maintainer runs one maintenance sweep and reports what it cleaned up.
// app.Service satisfies this with the same code behind the admin endpoint.
type Maintainer interface {
	RunMaintenance(ctx context.Context) (map[string]any, error)
}

type Janitor struct {
	maintainer Maintainer
	schedule   string
	cron       *cron.Cron
}

// New registers the sweep on a standard 5-field cron expression. A bad
// schedule fails here, at boot, instead of silently never firing.
func New(maintainer Maintainer, schedule string) (*Janitor, error) {
	j := &Janitor{maintainer: maintainer, schedule: schedule, cron: cron.New()}
	if _, err := j.cron.AddFunc(schedule, j.runOnce); err != nil {
		return nil, fmt.Errorf("parse cron schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
	log.Printf("janitor scheduled: %s", j.schedule)
}

// Stop waits for an in-flight sweep to finish before returning.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	results, err := j.maintainer.RunMaintenance(ctx)
	if err != nil {
		log.Printf("maintenance sweep failed: %v", err)
		return
	}
	log.Printf("maintenance sweep done: %v", results)
}
