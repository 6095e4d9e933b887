package service

import (
	"context"
	"sync"
	"time"

	"adbdesk/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is the pause between two device polls.
const DefaultPollInterval = 2 * time.Second

var ErrDeviceNotFound = errors.New("device not found")

// DeviceLister fetches the current device list. *adb.Client implements it.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
}

// DeviceRegistry caches the last polled device list and runs the poll loop that
// pushes fresh lists to subscribers. At most one poll loop runs at a time.
type DeviceRegistry struct {
	lister   DeviceLister
	interval time.Duration

	cacheMu sync.RWMutex
	cache   []models.Device

	observers *observerSet

	// loopMu guards the loop handle and is held while a stop waits for the loop
	// to exit, so a new loop can never overlap an old one.
	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDeviceRegistry(lister DeviceLister, interval time.Duration) *DeviceRegistry {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &DeviceRegistry{
		lister:    lister,
		interval:  interval,
		cache:     []models.Device{},
		observers: newObserverSet(),
	}
}

// GetDevices always fetches a fresh list and refreshes the cache.
// It does not coordinate with a running poll; the last write to the cache wins.
func (r *DeviceRegistry) GetDevices(ctx context.Context) ([]models.Device, error) {
	devices, err := r.lister.ListDevices(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list devices")
	}
	r.setCache(devices)
	return models.CloneDevices(devices), nil
}

// GetCachedDevices returns the last known list without any I/O.
func (r *DeviceRegistry) GetCachedDevices() []models.Device {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return models.CloneDevices(r.cache)
}

// HasDevice does a fresh fetch and reports whether id is attached.
func (r *DeviceRegistry) HasDevice(ctx context.Context, id string) (bool, error) {
	_, err := r.GetDeviceInfo(ctx, id)
	if errors.Is(err, ErrDeviceNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetDeviceInfo does a fresh fetch and returns the device with the given id.
func (r *DeviceRegistry) GetDeviceInfo(ctx context.Context, id string) (models.Device, error) {
	devices, err := r.GetDevices(ctx)
	if err != nil {
		return models.Device{}, err
	}
	for _, d := range devices {
		if d.ID == id {
			return d, nil
		}
	}
	return models.Device{}, errors.Wrapf(ErrDeviceNotFound, "device %s", id)
}

// StartMonitoring registers cb and starts the poll loop if it is not running.
// Callbacks run on the loop goroutine and must not call StartMonitoring or
// StopMonitoring; Unsubscribe is safe.
func (r *DeviceRegistry) StartMonitoring(cb DeviceCallback) SubscriptionID {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()

	id := r.observers.add(cb)
	if r.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		r.done = make(chan struct{})
		go r.pollLoop(ctx, r.done)
		log.Info().Str("module", "registry").Dur("interval", r.interval).Msg("device monitoring started")
	}
	return id
}

// Unsubscribe removes one subscriber. The loop keeps running until StopMonitoring.
func (r *DeviceRegistry) Unsubscribe(id SubscriptionID) bool {
	return r.observers.remove(id)
}

// StopMonitoring stops the poll loop, waits for it to exit and drops every subscriber.
func (r *DeviceRegistry) StopMonitoring() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()

	r.observers.clear()
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil
	log.Info().Str("module", "registry").Msg("device monitoring stopped")
}

func (r *DeviceRegistry) IsMonitoring() bool {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	return r.cancel != nil
}

func (r *DeviceRegistry) SubscriberCount() int {
	return r.observers.len()
}

func (r *DeviceRegistry) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		r.poll(ctx)

		timer.Reset(r.interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// poll runs one fetch, cache update and fan-out. A failed fetch leaves the
// cache alone and notifies nobody.
func (r *DeviceRegistry) poll(ctx context.Context) {
	devices, err := r.lister.ListDevices(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Str("module", "registry").Err(err).Msg("device poll failed")
		}
		return
	}
	r.setCache(devices)
	r.observers.notify(devices)
}

func (r *DeviceRegistry) setCache(devices []models.Device) {
	snapshot := models.CloneDevices(devices)
	r.cacheMu.Lock()
	r.cache = snapshot
	r.cacheMu.Unlock()
}
