// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pipeline runs one gesture model per device. Every device gets a
// worker goroutine that owns its model, so ticks and alignment requests for
// one device never run concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/gesture_computer/internal/calib"
	"github.com/relabs-tech/gesture_computer/internal/fusion"
	"github.com/relabs-tech/gesture_computer/internal/gesture"
	"github.com/relabs-tech/gesture_computer/internal/imu"
)

var (
	ErrQueueFull     = errors.New("pipeline: device queue full")
	ErrClosed        = errors.New("pipeline: closed")
	ErrUnknownDevice = errors.New("pipeline: unknown device")
)

// DefaultQueueSize is the per-device sample queue length.
const DefaultQueueSize = 64

// Frame is one published feature set.
type Frame struct {
	Device          string           `json:"device"`
	Session         string           `json:"session"`
	Seq             uint64           `json:"seq"`
	Time            time.Time        `json:"time"`
	SampleTimestamp uint16           `json:"sample_timestamp"`
	Features        gesture.Features `json:"features"`
}

// Publisher receives frames from device workers. Publish is called from
// several goroutines, one per device.
type Publisher interface {
	Publish(Frame) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Frame) error

func (f PublisherFunc) Publish(fr Frame) error { return f(fr) }

// ProfileLoader returns the calibration profile for a device.
type ProfileLoader func(device string) (calib.Profile, error)

// DeviceStats are the counters of one device worker.
type DeviceStats struct {
	Device    string `json:"device"`
	Session   string `json:"session"`
	Processed uint64 `json:"processed"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Queued    int    `json:"queued"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithQueueSize sets the per-device queue length.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithGains sets the fusion gains of every new device model.
func WithGains(g fusion.Gains) Option {
	return func(m *Manager) { m.gains = g }
}

// WithFilterOptions are passed to every new device filter.
func WithFilterOptions(opts ...fusion.Option) Option {
	return func(m *Manager) { m.filterOpts = append(m.filterOpts, opts...) }
}

// WithProfileLoader sets the calibration lookup for new devices.
func WithProfileLoader(l ProfileLoader) Option {
	return func(m *Manager) { m.profiles = l }
}

// WithClock sets the frame time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager routes samples to per-device workers.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	pub    Publisher

	queueSize  int
	gains      fusion.Gains
	filterOpts []fusion.Option
	profiles   ProfileLoader
	now        func() time.Time

	mu      sync.Mutex
	closed  bool
	workers map[string]*worker
	wg      sync.WaitGroup
}

// New returns a Manager publishing to pub. Workers stop when ctx is
// cancelled or Close is called.
func New(ctx context.Context, pub Publisher, opts ...Option) (*Manager, error) {
	m := &Manager{
		pub:       pub,
		queueSize: DefaultQueueSize,
		gains:     fusion.DefaultGains,
		now:       time.Now,
		workers:   make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.gains.Validate(); err != nil {
		return nil, err
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	return m, nil
}

// Submit queues s for its device, starting a worker on first sight of the
// device. It never blocks.
func (m *Manager) Submit(s imu.Sample) error {
	w, err := m.worker(s.Device, true)
	if err != nil {
		return err
	}
	select {
	case w.samples <- s:
		return nil
	default:
		w.dropped.Add(1)
		return fmt.Errorf("%s: %w", s.Device, ErrQueueFull)
	}
}

// Align captures the device's current orientation as its zero pose. The
// request is handled by the device worker after samples already queued.
func (m *Manager) Align(device string) error {
	w, err := m.worker(device, false)
	if err != nil {
		return err
	}
	select {
	case w.control <- controlAlign:
		return nil
	case <-w.done:
		return ErrClosed
	}
}

// Stats returns the counters of every device, sorted by device name.
func (m *Manager) Stats() []DeviceStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DeviceStats, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, DeviceStats{
			Device:    w.device,
			Session:   w.session,
			Processed: w.processed.Load(),
			Dropped:   w.dropped.Load(),
			Failed:    w.failed.Load(),
			Queued:    len(w.samples),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}

// Close stops all workers and waits for them. Queued samples not yet
// processed are discarded.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *Manager) worker(device string, create bool) (*worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if w, ok := m.workers[device]; ok {
		return w, nil
	}
	if !create {
		return nil, fmt.Errorf("%s: %w", device, ErrUnknownDevice)
	}

	model := gesture.NewModel(m.filterOpts...)
	if err := model.SetGains(m.gains); err != nil {
		return nil, err
	}
	if m.profiles != nil {
		p, err := m.profiles(device)
		if err != nil {
			log.Printf("pipeline: %s: calibration profile: %v (using defaults)", device, err)
		} else if err := model.Configure(p); err != nil {
			log.Printf("pipeline: %s: calibration profile rejected: %v (using defaults)", device, err)
		}
	}

	w := &worker{
		device:  device,
		session: uuid.NewString(),
		model:   model,
		samples: make(chan imu.Sample, m.queueSize),
		control: make(chan controlCmd),
		done:    make(chan struct{}),
	}
	m.workers[device] = w
	log.Printf("pipeline: %s: new session %s", device, w.session)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		w.run(m.ctx, m.pub, m.now)
	}()
	return w, nil
}

type controlCmd int

const controlAlign controlCmd = iota

type worker struct {
	device  string
	session string
	model   *gesture.Model

	samples chan imu.Sample
	control chan controlCmd
	done    chan struct{}

	seq       uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func (w *worker) run(ctx context.Context, pub Publisher, now func() time.Time) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-w.control:
			// drain what was queued before the request
			for n := len(w.samples); n > 0; n-- {
				w.process(<-w.samples, pub, now)
			}
			if cmd == controlAlign {
				w.model.SetAlignment()
				log.Printf("pipeline: %s: alignment set", w.device)
			}
		case s := <-w.samples:
			w.process(s, pub, now)
		}
	}
}

func (w *worker) process(s imu.Sample, pub Publisher, now func() time.Time) {
	f, err := w.model.Tick(s.Accel(), s.Gyro(), s.Magnet())
	if err != nil {
		w.failed.Add(1)
		log.Printf("pipeline: %s: tick %d skipped: %v", w.device, s.Timestamp, err)
		return
	}
	w.processed.Add(1)
	w.seq++

	frame := Frame{
		Device:          w.device,
		Session:         w.session,
		Seq:             w.seq,
		Time:            now(),
		SampleTimestamp: s.Timestamp,
		Features:        f,
	}
	if err := pub.Publish(frame); err != nil {
		log.Printf("pipeline: %s: publish error: %v", w.device, err)
	}
}
