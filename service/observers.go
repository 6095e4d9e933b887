package service

import (
	"runtime/debug"
	"slices"
	"sync"

	"adbdesk/models"

	"github.com/rs/zerolog/log"
)

// DeviceCallback receives every freshly polled device list.
type DeviceCallback func(devices []models.Device)

// SubscriptionID identifies one registered callback.
type SubscriptionID uint64

type observerSet struct {
	mu        sync.Mutex
	next      SubscriptionID
	callbacks map[SubscriptionID]DeviceCallback
}

func newObserverSet() *observerSet {
	return &observerSet{callbacks: make(map[SubscriptionID]DeviceCallback)}
}

func (s *observerSet) add(cb DeviceCallback) SubscriptionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.callbacks[s.next] = cb
	return s.next
}

func (s *observerSet) remove(id SubscriptionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.callbacks[id]; !ok {
		return false
	}
	delete(s.callbacks, id)
	return true
}

func (s *observerSet) clear() {
	s.mu.Lock()
	s.callbacks = make(map[SubscriptionID]DeviceCallback)
	s.mu.Unlock()
}

func (s *observerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.callbacks)
}

// notify calls every callback in subscription order, outside the lock, each
// with its own copy of devices.
func (s *observerSet) notify(devices []models.Device) {
	s.mu.Lock()
	ids := make([]SubscriptionID, 0, len(s.callbacks))
	for id := range s.callbacks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	callbacks := make([]DeviceCallback, len(ids))
	for i, id := range ids {
		callbacks[i] = s.callbacks[id]
	}
	s.mu.Unlock()

	for i, cb := range callbacks {
		invoke(ids[i], cb, models.CloneDevices(devices))
	}
}

func invoke(id SubscriptionID, cb DeviceCallback, devices []models.Device) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("module", "registry").
				Uint64("subscription", uint64(id)).
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("device callback panicked")
		}
	}()
	cb(devices)
}
