// Package reconciler diffs the desired instance set (derived from
// container discovery and configuration resolution) against the running
// instance set and drives instance lifecycle transitions (§4.6).
//
// Grounded on the teacher's internal/tasks.Scheduler worker/ticker shape
// for the single-goroutine FIFO event loop, generalized from polling a
// fixed-interval ticker to draining an engine event channel plus a
// config-change channel.
package reconciler

import (
	"context"

	"github.com/sirupsen/logrus"

	"abwart/internal/config"
	"abwart/internal/engine"
	"abwart/internal/instance"
)

// running is everything the reconciler tracks about one live instance:
// the Instance itself plus the container address it was built against,
// since BaseURL needs it again on reconfigure.
type running struct {
	inst          *instance.Instance
	containerAddr string
}

// Reconciler owns the map of currently-running instances and processes
// engine/config events one at a time (§4.6: "FIFO single-task
// processing" — no concurrent reconcile passes; the single goroutine
// running Run is the only writer of instances).
type Reconciler struct {
	eng        *engine.Client
	staticPath string
	log        *logrus.Entry
	instances  map[string]*running
}

// New constructs a Reconciler with no running instances.
func New(eng *engine.Client, staticPath string, log *logrus.Entry) *Reconciler {
	return &Reconciler{
		eng:        eng,
		staticPath: staticPath,
		log:        log,
		instances:  make(map[string]*running),
	}
}

// Run blocks, draining container lifecycle events and config-file change
// notifications, reconciling after each, until ctx is canceled. It first
// performs a startup full scan so instances already running when abwart
// starts are picked up without waiting for their next lifecycle event.
func (r *Reconciler) Run(ctx context.Context, events <-chan engine.Event, configChanged <-chan struct{}) error {
	if err := r.reconcile(ctx); err != nil {
		r.log.WithError(err).Error("reconciler: startup reconcile failed")
	}

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()

		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := r.reconcile(ctx); err != nil {
				r.log.WithError(err).Warn("reconciler: reconcile failed")
			}

		case _, ok := <-configChanged:
			if !ok {
				configChanged = nil
				continue
			}
			if err := r.reconcile(ctx); err != nil {
				r.log.WithError(err).Warn("reconciler: reconcile failed")
			}
		}
	}
}

// reconcile computes the desired set D from the currently running
// containers plus the static file, and transitions R (r.instances)
// towards D: names in D\R are created and started, names in R\D are
// stopped and dropped, names in D∩R are reconfigured in place.
func (r *Reconciler) reconcile(ctx context.Context) error {
	containers, err := r.eng.ListContainers(ctx)
	if err != nil {
		return err
	}

	labels := make(map[string]map[string]string, len(containers))
	addrByName := make(map[string]string, len(containers))
	for _, c := range containers {
		labels[c.Name] = c.Labels
		addrByName[c.Name] = c.Address
	}

	desired, err := config.Resolve(config.Source{ContainerLabels: labels, StaticPath: r.staticPath}, r.log)
	if err != nil {
		return err
	}

	for name := range r.instances {
		if _, ok := desired[name]; !ok {
			r.stopInstance(name)
		}
	}

	for name, cfg := range desired {
		addr := addrByName[name]
		if run, ok := r.instances[name]; ok {
			run.inst.Reconfigure(cfg, addr)
			run.containerAddr = addr
			continue
		}
		inst := instance.New(name, cfg, addr, r.eng, r.log)
		inst.Start()
		r.instances[name] = &running{inst: inst, containerAddr: addr}
		r.log.WithField("instance", name).Info("reconciler: instance started")
	}

	return nil
}

func (r *Reconciler) stopInstance(name string) {
	run, ok := r.instances[name]
	if !ok {
		return
	}
	run.inst.Stop()
	delete(r.instances, name)
	r.log.WithField("instance", name).Info("reconciler: instance stopped")
}

func (r *Reconciler) shutdown() {
	for name := range r.instances {
		r.stopInstance(name)
	}
}
