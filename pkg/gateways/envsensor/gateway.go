// Package envsensor runs the discovery loop: scan, deduplicate, decode and
// hand readings over to per-device delivery workers.
package envsensor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/decoder"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/delivery"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/gateways/envsensor/ble"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/gateways/envsensor/network"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/tracker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	resultsBuffer       = 64
	defaultScanErrPause = time.Second
)

// Stats counts what the loop has seen since it started.
type Stats struct {
	Scans      uint64
	ScanErrors uint64
	Accepted   uint64
	Rejected   uint64
	Unknown    uint64
	Malformed  uint64
	Delivered  uint64
	Dropped    uint64
	Overflowed uint64
}

type counters struct {
	scans, scanErrors, accepted, rejected, unknown, malformed, delivered, dropped uint64
}

type Gateway struct {
	// first for 64-bit atomic alignment on 32-bit ARM
	stats counters

	scanner   ble.Scanner
	sink      network.Sink
	tracker   *tracker.Tracker
	window    time.Duration
	queueSize int
	log       *logrus.Entry
	foreign   *foreignFilter
	results   chan delivery.Result

	now          func() time.Time
	scanErrPause time.Duration
	newClient    func(entities.Device) *delivery.Client

	// set by Run before the first scan; workers inherit it
	runCtx context.Context

	mu      sync.Mutex
	workers []*delivery.Worker
}

func New(conf entities.Configuration, scanner ble.Scanner, sink network.Sink, log *logrus.Entry) (*Gateway, error) {
	foreign, err := newForeignFilter()
	if err != nil {
		return nil, errors.Wrap(err, "foreign address filter")
	}
	g := &Gateway{
		scanner:      scanner,
		sink:         sink,
		window:       conf.Scan.Window,
		queueSize:    conf.Delivery.QueueSize,
		log:          log,
		foreign:      foreign,
		results:      make(chan delivery.Result, resultsBuffer),
		now:          time.Now,
		scanErrPause: defaultScanErrPause,
		runCtx:       context.Background(),
	}
	g.newClient = func(device entities.Device) *delivery.Client {
		return delivery.NewClient(device, g.sink, g.log)
	}
	g.tracker = tracker.New(conf.Devices, g.bindWorker)
	return g, nil
}

// bindWorker is the tracker's handle factory: one running worker per device.
func (g *Gateway) bindWorker(address string, device entities.Device) (tracker.Handle, error) {
	worker := delivery.NewWorker(address, g.newClient(device), g.queueSize, g.results, g.log)
	worker.Start(g.runCtx)

	g.mu.Lock()
	g.workers = append(g.workers, worker)
	g.mu.Unlock()

	g.log.Infof("device %s bound to channel %s", address, device.ChannelID)
	return worker, nil
}

// Run scans until ctx is cancelled. It returns nil on cancellation and an
// error only when a delivery failed for a reason retrying cannot fix.
func (g *Gateway) Run(ctx context.Context) error {
	g.runCtx = ctx
	defer g.tracker.Close()

	for {
		if err := g.drainResults(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			g.log.Info("discovery loop stopped")
			return nil
		}

		advertisements, err := g.scanner.Scan(ctx, g.window)
		atomic.AddUint64(&g.stats.scans, 1)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			atomic.AddUint64(&g.stats.scanErrors, 1)
			g.log.Errorf("scan failed: %v", err)
			g.pause(ctx)
			continue
		}

		for _, advertisement := range advertisements {
			g.handle(advertisement)
		}
	}
}

func (g *Gateway) pause(ctx context.Context) {
	timer := time.NewTimer(g.scanErrPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (g *Gateway) handle(advertisement entities.Advertisement) {
	observation, ok := ParseAdvertisement(advertisement)
	if !ok {
		return
	}

	decision, state, err := g.tracker.Observe(observation.Address, observation.Sequence, g.now())
	if err != nil {
		if errors.Is(err, tracker.ErrUnknownDevice) {
			atomic.AddUint64(&g.stats.unknown, 1)
			if g.foreign.firstSighting(observation.Address) {
				g.log.Debugf("ignoring unregistered device %s", observation.Address)
			}
			return
		}
		g.log.Errorf("observe %s: %v", observation.Address, err)
		return
	}
	if decision == tracker.Reject {
		atomic.AddUint64(&g.stats.rejected, 1)
		g.log.Debugf("%s seq %s: duplicate", observation.Address, observation.Sequence)
		return
	}
	atomic.AddUint64(&g.stats.accepted, 1)

	reading, err := decoder.DecodeHex(observation.Payload)
	if err != nil {
		atomic.AddUint64(&g.stats.malformed, 1)
		g.log.Warnf("%s seq %s: %v", observation.Address, observation.Sequence, err)
		return
	}
	g.log.Infof("%s seq %s: %.2f %.2f %.1f %.2f %.2f", observation.Address, observation.Sequence,
		reading.Temperature, reading.Humidity, reading.Pressure, reading.SystemTemperature, reading.BatteryVoltage)
	state.Handle.Enqueue(reading)
}

func (g *Gateway) drainResults() error {
	for {
		select {
		case result := <-g.results:
			if err := g.record(result); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (g *Gateway) record(result delivery.Result) error {
	if result.Outcome == delivery.Delivered {
		atomic.AddUint64(&g.stats.delivered, 1)
		return nil
	}
	atomic.AddUint64(&g.stats.dropped, 1)
	if result.Err != nil {
		return errors.Wrapf(result.Err, "deliver reading of %s", result.Address)
	}
	return nil
}

func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	var overflowed uint64
	for _, worker := range g.workers {
		overflowed += worker.Overflowed()
	}
	g.mu.Unlock()

	return Stats{
		Scans:      atomic.LoadUint64(&g.stats.scans),
		ScanErrors: atomic.LoadUint64(&g.stats.scanErrors),
		Accepted:   atomic.LoadUint64(&g.stats.accepted),
		Rejected:   atomic.LoadUint64(&g.stats.rejected),
		Unknown:    atomic.LoadUint64(&g.stats.unknown),
		Malformed:  atomic.LoadUint64(&g.stats.malformed),
		Delivered:  atomic.LoadUint64(&g.stats.delivered),
		Dropped:    atomic.LoadUint64(&g.stats.dropped),
		Overflowed: overflowed,
	}
}

// Tracker exposes the device state store, mainly for inspection.
func (g *Gateway) Tracker() *tracker.Tracker {
	return g.tracker
}
