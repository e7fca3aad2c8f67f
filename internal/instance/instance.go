// Package instance owns the lifecycle of one running registry housekeeper:
// its per-rule cron schedules, the execution lock that serializes rule
// runs, and the tidy (garbage collection) trigger coalescing (§4.4).
//
// Grounded on the teacher's internal/tasks.Scheduler for the worker/ticker
// shape, generalized from a single global ticker to one robfig/cron
// scheduler per instance, since each rule carries its own independent
// cron expression rather than a shared fixed interval.
package instance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"abwart/internal/config"
	"abwart/internal/engine"
	"abwart/internal/registryclient"
)

// Instance is one (container, registry) pair under management. Its
// lifetime spans from the container's "enabled" discovery until it stops
// being desired (container gone, or enable resolves false).
type Instance struct {
	name string
	log  *logrus.Entry

	cfgMu sync.RWMutex
	cfg   config.ResolvedRegistry

	client *registryclient.Client
	eng    *engine.Client

	cronMu  sync.Mutex
	sched   *cron.Cron
	entries map[string]cron.EntryID // rule name -> its cron entry, "" key for cleanup

	executionMu sync.Mutex // serializes rule executions, per §4.4
	ruleRunning sync.Map   // rule name -> *int32, CAS guard for overlap-drop

	gcMu      sync.Mutex
	gcRunning bool

	deletesMu       sync.Mutex
	deletesDisabled bool

	overlapDropped uint64 // diagnostic counter, read via Stats
}

// New constructs a stopped Instance. Call Start to begin scheduling.
func New(name string, cfg config.ResolvedRegistry, containerAddr string, eng *engine.Client, log *logrus.Entry) *Instance {
	client := registryclient.New(cfg.BaseURL(containerAddr), cfg.Username, cfg.Password, false, 30*time.Second)
	return &Instance{
		name:    name,
		log:     log.WithField("instance", name),
		cfg:     cfg,
		client:  client,
		eng:     eng,
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins per-rule and cleanup scheduling.
func (i *Instance) Start() {
	i.cronMu.Lock()
	defer i.cronMu.Unlock()

	i.sched = cron.New()
	i.cfgMu.RLock()
	cfg := i.cfg
	i.cfgMu.RUnlock()

	for name := range cfg.Rules {
		i.addRuleEntryLocked(name)
	}
	if cfg.CleanupSchedule != "" {
		i.addCleanupEntryLocked(cfg.CleanupSchedule)
	}
	i.sched.Start()
	i.log.Info("instance: started")
}

// Stop halts scheduling. Any execution already in flight is allowed to
// finish; Stop does not cancel it.
func (i *Instance) Stop() {
	i.cronMu.Lock()
	sched := i.sched
	i.cronMu.Unlock()
	if sched == nil {
		return
	}
	ctx := sched.Stop()
	<-ctx.Done()
	i.log.Info("instance: stopped")
}

// Reconfigure applies a new resolved configuration without a full
// restart (§4.4): rules whose schedule is unchanged keep their existing
// cron entry (the entry always reads the current rule from i.cfg at fire
// time, so policy/tidy changes take effect on the next tick for free);
// rules with a changed schedule are re-registered; removed rules are
// unregistered; new rules are registered. The client is rebuilt only if
// connection-relevant fields changed.
func (i *Instance) Reconfigure(cfg config.ResolvedRegistry, containerAddr string) {
	i.cfgMu.Lock()
	old := i.cfg
	connChanged := old.BaseURL(containerAddr) != cfg.BaseURL(containerAddr) ||
		old.Username != cfg.Username || old.Password != cfg.Password
	i.cfg = cfg
	i.cfgMu.Unlock()

	if connChanged {
		i.client = registryclient.New(cfg.BaseURL(containerAddr), cfg.Username, cfg.Password, false, 30*time.Second)
	}

	i.deletesMu.Lock()
	i.deletesDisabled = false
	i.deletesMu.Unlock()

	i.cronMu.Lock()
	defer i.cronMu.Unlock()

	for name, entryID := range i.entries {
		if name == "" {
			continue
		}
		newRule, ok := cfg.Rules[name]
		if !ok {
			i.sched.Remove(entryID)
			delete(i.entries, name)
			continue
		}
		if oldRule, existed := old.Rules[name]; !existed || oldRule.Schedule != newRule.Schedule {
			i.sched.Remove(entryID)
			i.addRuleEntryLocked(name)
		}
	}
	for name := range cfg.Rules {
		if _, ok := i.entries[name]; !ok {
			i.addRuleEntryLocked(name)
		}
	}

	switch {
	case cfg.CleanupSchedule == "" && old.CleanupSchedule != "":
		if id, ok := i.entries[""]; ok {
			i.sched.Remove(id)
			delete(i.entries, "")
		}
	case cfg.CleanupSchedule != "" && cfg.CleanupSchedule != old.CleanupSchedule:
		if id, ok := i.entries[""]; ok {
			i.sched.Remove(id)
		}
		i.addCleanupEntryLocked(cfg.CleanupSchedule)
	}

	i.log.Info("instance: reconfigured")
}

func (i *Instance) addRuleEntryLocked(name string) {
	i.cfgMu.RLock()
	r, ok := i.cfg.Rules[name]
	i.cfgMu.RUnlock()
	if !ok {
		return
	}
	id, err := i.sched.AddFunc(r.Schedule, func() { i.fireRule(name) })
	if err != nil {
		i.log.WithField("rule", name).WithError(err).Warn("instance: invalid cron schedule, rule will not run")
		return
	}
	i.entries[name] = id
}

func (i *Instance) addCleanupEntryLocked(schedule string) {
	i.log.Warn("instance: cleanup schedule configured; registry garbage collection can corrupt storage on affected registry versions if run against a registry still accepting writes")

	id, err := i.sched.AddFunc(schedule, func() { i.fireCleanup() })
	if err != nil {
		i.log.WithError(err).Warn("instance: invalid cleanup schedule, cleanup will not run")
		return
	}
	i.entries[""] = id
}

// fireRule is the cron callback for one rule. A tick that arrives while
// the same rule's previous run is still executing is dropped, not
// queued (§4.4).
func (i *Instance) fireRule(name string) {
	flagIface, _ := i.ruleRunning.LoadOrStore(name, new(int32))
	flag := flagIface.(*int32)
	if !atomic.CompareAndSwapInt32(flag, 0, 1) {
		atomic.AddUint64(&i.overlapDropped, 1)
		i.log.WithField("rule", name).Warn("instance: previous execution still running, dropping this tick")
		return
	}
	defer atomic.StoreInt32(flag, 0)

	i.executionMu.Lock()
	defer i.executionMu.Unlock()

	i.cfgMu.RLock()
	cfg := i.cfg
	i.cfgMu.RUnlock()

	r, ok := cfg.Rules[name]
	if !ok {
		return // removed between schedule and fire
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	tidy := executeRule(ctx, i, r)
	if tidy {
		i.triggerGC(ctx)
	}
}

func (i *Instance) fireCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	i.triggerGC(ctx)
}

// triggerGC runs the registry's garbage collector via the engine exec
// adapter, coalesced to at most one in-flight run per instance (§4.4): a
// second caller arriving while one is running is a no-op, not a queue.
func (i *Instance) triggerGC(ctx context.Context) {
	i.gcMu.Lock()
	if i.gcRunning {
		i.gcMu.Unlock()
		i.log.Debug("instance: gc already running, coalescing")
		return
	}
	i.gcRunning = true
	i.gcMu.Unlock()

	defer func() {
		i.gcMu.Lock()
		i.gcRunning = false
		i.gcMu.Unlock()
	}()

	i.cfgMu.RLock()
	name := i.name
	i.cfgMu.RUnlock()

	if err := i.eng.Exec(ctx, name, []string{"registry", "garbage-collect", "/etc/docker/registry/config.yml"}); err != nil {
		i.log.WithError(err).Warn("instance: registry garbage collection failed")
		return
	}
	i.log.Info("instance: registry garbage collection complete")
}

// deletesAreDisabled reports whether this instance has already seen a 405
// from DeleteTag and stopped attempting further deletes (spec §7,
// "Registry-delete conflict").
func (i *Instance) deletesAreDisabled() bool {
	i.deletesMu.Lock()
	defer i.deletesMu.Unlock()
	return i.deletesDisabled
}

// disableDeletes marks this instance as delete-disabled, logging once
// (§7: "log once per instance, skip all further deletes for this
// instance until config change"). Subsequent calls are no-ops.
func (i *Instance) disableDeletes() {
	i.deletesMu.Lock()
	already := i.deletesDisabled
	i.deletesDisabled = true
	i.deletesMu.Unlock()

	if !already {
		i.log.Warn("instance: registry reports deletes disabled (405); skipping further deletes until reconfigured")
	}
}

// Stats is a diagnostic snapshot, exposed for logging/metrics callers.
type Stats struct {
	OverlapDropped uint64
}

func (i *Instance) Stats() Stats {
	return Stats{OverlapDropped: atomic.LoadUint64(&i.overlapDropped)}
}
