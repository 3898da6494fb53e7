package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/lifelink/internal/position"
	"github.com/3cpo-dev/lifelink/internal/telemetry"
	"github.com/3cpo-dev/lifelink/pkg/api"
)

// Geocoder resolves a coordinate to a street address.
type Geocoder interface {
	Resolve(ctx context.Context, lat, lng float64) (string, error)
}

// Reporter pushes a reading to the emergency intake.
type Reporter interface {
	Report(ctx context.Context, reading api.PositionReading) error
}

// Locator finds hospitals near a coordinate. The result carries a source tag
// even when the lookup fails.
type Locator interface {
	FindNearby(ctx context.Context, lat, lng float64) (api.HospitalResult, error)
}

// Dispatcher returns a candidate fleet and the index of the dispatched unit.
type Dispatcher interface {
	Dispatch(lat, lng float64) ([]api.Ambulance, int)
}

// Journal records incidents. Failures are logged and never affect the incident.
type Journal interface {
	OpenIncident(ctx context.Context, rec IncidentRecord) error
	RecordPosition(ctx context.Context, incidentID string, r api.PositionReading, phase string, reportErr error) error
	UpdateHospital(ctx context.Context, incidentID string, h api.Hospital) error
	CloseIncident(ctx context.Context, incidentID string, at time.Time) error
}

// Deps are the collaborators the Orchestrator sequences. Geocoder, Journal,
// Metrics, NewTicker and NewID are optional.
type Deps struct {
	Source     position.Source
	Geocoder   Geocoder
	Reporter   Reporter
	Locator    Locator
	Dispatcher Dispatcher
	Journal    Journal
	Metrics    *telemetry.Metrics
	NewTicker  TickerFunc
	NewID      func() string
}

// Options tune arming and the position acquisition bound. Zero values take
// the defaults.
type Options struct {
	TickInterval   time.Duration
	Step           int
	AcquireTimeout time.Duration
}

// DefaultOptions arms in 3s (50 ticks of 60ms at step 2) and waits 15s for a fix.
func DefaultOptions() Options {
	return Options{TickInterval: 60 * time.Millisecond, Step: 2, AcquireTimeout: 15 * time.Second}
}

// Orchestrator turns a hold gesture into an emergency activation and keeps the
// incident updated until it is cancelled. It exclusively owns IncidentState.
type Orchestrator struct {
	deps Deps
	opts Options

	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu sync.Mutex
	// gen identifies the current hold/incident. Async work started under an
	// older gen is discarded.
	gen      uint64
	state    IncidentState
	arming   *armTimer
	run      context.CancelFunc
	sub      *position.Subscription
	watchers map[uint64]chan IncidentState
	watchSeq uint64
	closed   bool
}

type activationResult struct {
	incidentID string
	reading    api.PositionReading
	hospitals  []api.Hospital
	source     string
	fleet      []api.Ambulance
	dispatched int
}

// NewOrchestrator validates deps and returns an idle orchestrator.
func NewOrchestrator(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Source == nil || deps.Reporter == nil || deps.Locator == nil || deps.Dispatcher == nil {
		return nil, errors.New("orchestrator: source, reporter, locator and dispatcher are required")
	}
	def := DefaultOptions()
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.Step <= 0 {
		opts.Step = def.Step
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = def.AcquireTimeout
	}
	if deps.NewTicker == nil {
		deps.NewTicker = NewStdTicker
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.New().String() }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:       deps,
		opts:       opts,
		root:       ctx,
		rootCancel: cancel,
		state:      idleState(),
		watchers:   make(map[uint64]chan IncidentState),
	}, nil
}

// State returns a snapshot of the incident.
func (o *Orchestrator) State() IncidentState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// Watch streams state snapshots starting with the current one. Slow readers
// only ever see the latest snapshot. The returned func stops the stream.
func (o *Orchestrator) Watch() (<-chan IncidentState, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan IncidentState, 1)
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	o.watchSeq++
	id := o.watchSeq
	o.watchers[id] = ch
	ch <- o.state.Clone()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if c, ok := o.watchers[id]; ok {
				delete(o.watchers, id)
				close(c)
			}
		})
	}
}

// StartHold begins arming. It is ignored unless the orchestrator is idle.
func (o *Orchestrator) StartHold() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	eff, _ := o.applyLocked(holdStarted{})
	if !eff.has(effStartArming) {
		log.Debug().Str("phase", string(o.state.Phase)).Msg("Hold ignored")
		return
	}
	o.gen++
	t := newArmTimer()
	o.arming = t
	gen, tk := o.gen, o.deps.NewTicker(o.opts.TickInterval)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runArming(gen, tk, t)
	}()
}

// EndHold releases the button. Before the threshold this aborts arming.
func (o *Orchestrator) EndHold() {
	o.mu.Lock()
	eff, _ := o.applyLocked(holdReleased{})
	if eff.has(effStopArming) {
		o.gen++
	}
	t, run, sub := o.takeLocked(eff)
	o.mu.Unlock()

	o.release(t, run, sub)
	if eff.has(effStopArming) {
		o.deps.Metrics.ArmingAborted()
		log.Debug().Msg("Hold released before activation")
	}
}

// SelectHospital changes the selected hospital within the current result set.
// The journal row of an active incident follows the selection.
func (o *Orchestrator) SelectHospital(id string) error {
	o.mu.Lock()
	eff, err := o.applyLocked(hospitalSelected{id: id})
	if err != nil {
		o.mu.Unlock()
		return err
	}
	incidentID := o.state.IncidentID
	var selected api.Hospital
	if o.state.SelectedHospital != nil {
		selected = *o.state.SelectedHospital
	}
	o.mu.Unlock()

	if eff.has(effChanged) && incidentID != "" {
		o.journal(func(ctx context.Context, j Journal) error {
			return j.UpdateHospital(ctx, incidentID, selected)
		})
	}
	return nil
}

// Cancel returns to idle from any phase, tearing down the arming timer, any
// in-flight activation and the live subscription. Cancelling twice is a no-op.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	prev := o.state
	eff, _ := o.applyLocked(cancelled{})
	if !eff.has(effChanged) {
		o.mu.Unlock()
		return
	}
	o.gen++
	t, run, sub := o.takeLocked(eff)
	o.mu.Unlock()

	o.release(t, run, sub)
	if prev.Phase == PhaseActive {
		o.deps.Metrics.SetActive(false)
		o.journalClose(prev.IncidentID)
		log.Info().Str("incident", prev.IncidentID).Msg("Incident cancelled")
	}
}

// Close cancels any incident and stops all background work.
func (o *Orchestrator) Close() {
	o.Cancel()
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.gen++
	t, run, sub := o.detachLocked()
	for id, ch := range o.watchers {
		delete(o.watchers, id)
		close(ch)
	}
	o.mu.Unlock()

	o.release(t, run, sub)
	o.rootCancel()
	o.wg.Wait()
}

// takeLocked detaches the resources that eff stops. Caller holds o.mu and
// hands the result to release once unlocked.
func (o *Orchestrator) takeLocked(eff effect) (t *armTimer, run context.CancelFunc, sub *position.Subscription) {
	if eff.has(effStopArming) {
		t, o.arming = o.arming, nil
	}
	if eff.has(effTeardown) {
		run, sub = o.run, o.sub
		o.run, o.sub = nil, nil
	}
	return t, run, sub
}

// detachLocked takes every resource regardless of phase.
func (o *Orchestrator) detachLocked() (*armTimer, context.CancelFunc, *position.Subscription) {
	t, run, sub := o.arming, o.run, o.sub
	o.arming, o.run, o.sub = nil, nil, nil
	return t, run, sub
}

// release must run without o.mu: Subscription.Cancel waits for callbacks.
func (o *Orchestrator) release(t *armTimer, run context.CancelFunc, sub *position.Subscription) {
	t.Stop()
	if run != nil {
		run()
	}
	sub.Cancel()
}

// applyLocked runs ev through reduce and publishes the result. Caller holds o.mu.
func (o *Orchestrator) applyLocked(ev event) (effect, error) {
	next, eff, err := reduce(o.state, ev)
	if err != nil {
		return 0, err
	}
	if !eff.has(effChanged) {
		return eff, nil
	}
	if next.Phase != o.state.Phase {
		log.Debug().
			Str("event", ev.eventName()).
			Str("from", string(o.state.Phase)).
			Str("to", string(next.Phase)).
			Msg("Incident phase transition")
	}
	o.state = next
	snap := next.Clone()
	for _, ch := range o.watchers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	return eff, nil
}

// tick advances arming. It reports whether the countdown should continue.
func (o *Orchestrator) tick(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen || o.closed {
		return false
	}
	eff, _ := o.applyLocked(armTicked{step: o.opts.Step})
	// The timer only needs detaching: returning false ends its loop.
	o.takeLocked(eff)
	if eff.has(effActivate) {
		ctx, cancel := context.WithCancel(o.root)
		o.run = cancel
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.activate(ctx, gen)
		}()
		return false
	}
	return o.state.Phase == PhaseArming
}

// activate runs the pipeline and commits its outcome if the incident is still current.
func (o *Orchestrator) activate(ctx context.Context, gen uint64) {
	start := time.Now()
	res, err := o.pipeline(ctx)
	o.deps.Metrics.ObservePipeline(time.Since(start).Seconds())

	o.mu.Lock()
	if gen != o.gen || o.state.Phase != PhaseActivating {
		o.mu.Unlock()
		if err == nil {
			o.journalClose(res.incidentID)
		}
		log.Debug().Msg("Discarding activation result for superseded incident")
		return
	}
	if err != nil {
		ierr := api.NewIncidentError(err)
		eff, _ := o.applyLocked(activationFailed{err: ierr})
		t, run, sub := o.takeLocked(eff)
		o.mu.Unlock()
		o.release(t, run, sub)
		o.deps.Metrics.Activation(string(ierr.Kind))
		log.Warn().Err(err).Str("kind", string(ierr.Kind)).Msg("Emergency activation failed")
		return
	}
	eff, _ := o.applyLocked(activationSucceeded{res: res})
	o.mu.Unlock()

	o.deps.Metrics.Activation("active")
	o.deps.Metrics.SetActive(true)
	log.Info().
		Str("incident", res.incidentID).
		Float64("lat", res.reading.Latitude).
		Float64("lng", res.reading.Longitude).
		Int("hospitals", len(res.hospitals)).
		Str("source", res.source).
		Msg("Emergency active")

	if eff.has(effStartTracking) {
		o.startTracking(ctx, gen, res.incidentID)
	}
}

// pipeline acquires a fix and gathers responder information. Only the
// position acquisition can fail it.
func (o *Orchestrator) pipeline(ctx context.Context) (activationResult, error) {
	res := activationResult{dispatched: -1}

	acqCtx, cancel := context.WithTimeout(ctx, o.opts.AcquireTimeout)
	reading, err := o.deps.Source.AcquireOnce(acqCtx)
	cancel()
	if err != nil {
		if !errors.Is(err, api.ErrLocationUnavailable) {
			err = fmt.Errorf("%w: %v", api.ErrLocationUnavailable, err)
		}
		return res, err
	}
	at := reading.Coordinates()
	lat, lng := at.Lat, at.Lng

	if o.deps.Geocoder != nil {
		if addr, err := o.deps.Geocoder.Resolve(ctx, lat, lng); err != nil {
			log.Warn().Err(err).Msg("Address lookup failed, continuing without address")
		} else {
			reading = reading.WithAddress(addr)
		}
	}
	res.reading = reading

	reportErr := o.deps.Reporter.Report(ctx, reading)
	if reportErr != nil {
		log.Warn().Err(reportErr).Msg("Initial incident report failed")
	}
	o.deps.Metrics.Report("initial", reportErr)

	found, err := o.deps.Locator.FindNearby(ctx, lat, lng)
	if err != nil {
		log.Warn().Err(err).Msg("Hospital lookup failed")
		found.Hospitals = nil
		if found.Source == "" {
			found.Source = api.SourceUnavailable
		}
	}
	if found.Source == "" {
		found.Source = "unknown"
	}
	res.hospitals = found.Hospitals
	if res.hospitals == nil {
		res.hospitals = []api.Hospital{}
	}
	res.source = found.Source
	o.deps.Metrics.HospitalLookup(res.source)

	res.fleet, res.dispatched = o.deps.Dispatcher.Dispatch(lat, lng)
	res.incidentID = o.deps.NewID()

	rec := IncidentRecord{
		ID:         res.incidentID,
		StartedAt:  time.Now(),
		Latitude:   lat,
		Longitude:  lng,
		Address:    reading.Address,
		DataSource: res.source,
	}
	if len(res.hospitals) > 0 {
		rec.HospitalID, rec.HospitalName = res.hospitals[0].ID, res.hospitals[0].Name
	}
	if res.dispatched >= 0 && res.dispatched < len(res.fleet) {
		rec.AmbulanceCallSign = res.fleet[res.dispatched].CallSign
	}
	o.journal(func(ctx context.Context, j Journal) error {
		if err := j.OpenIncident(ctx, rec); err != nil {
			return err
		}
		return j.RecordPosition(ctx, rec.ID, reading, "initial", reportErr)
	})
	return res, nil
}

// startTracking opens the live subscription for an active incident.
func (o *Orchestrator) startTracking(ctx context.Context, gen uint64, incidentID string) {
	sub, err := o.deps.Source.Subscribe(ctx, func(r api.PositionReading) {
		o.onReading(ctx, gen, incidentID, r)
	})
	if err != nil {
		log.Warn().Err(err).Str("incident", incidentID).Msg("Live tracking unavailable")
		return
	}

	o.mu.Lock()
	if gen != o.gen || o.state.Phase != PhaseActive {
		o.mu.Unlock()
		sub.Cancel()
		return
	}
	o.sub = sub
	o.mu.Unlock()
}

// onReading runs on the subscription goroutine, so reports for one incident
// never overlap.
func (o *Orchestrator) onReading(ctx context.Context, gen uint64, incidentID string, r api.PositionReading) {
	o.mu.Lock()
	if gen != o.gen || o.state.Phase != PhaseActive {
		o.mu.Unlock()
		return
	}
	o.applyLocked(positionUpdated{reading: r})
	reading := *o.state.CurrentPosition
	o.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	err := o.deps.Reporter.Report(ctx, reading)
	if err != nil {
		log.Debug().Err(err).Str("incident", incidentID).Msg("Tracking report failed")
	}
	o.deps.Metrics.Report("tracking", err)
	o.journal(func(ctx context.Context, j Journal) error {
		return j.RecordPosition(ctx, incidentID, reading, "tracking", err)
	})
}

func (o *Orchestrator) journalClose(incidentID string) {
	o.journal(func(ctx context.Context, j Journal) error {
		return j.CloseIncident(ctx, incidentID, time.Now())
	})
}

// journal runs fn with a short detached context so a cancelled incident can
// still be written.
func (o *Orchestrator) journal(fn func(ctx context.Context, j Journal) error) {
	if o.deps.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx, o.deps.Journal); err != nil {
		log.Warn().Err(err).Msg("Incident journal write failed")
	}
}
