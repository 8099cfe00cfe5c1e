package reconcile

import (
	"context"
	"errors"
	"sync"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"
)

// fakeStore 内存实现：SnapshotSource + OwnerLookup + ActionStore
type fakeStore struct {
	mu sync.Mutex

	devices       []models.Device
	alerts        []models.Alert
	readings      []models.Reading
	notifications []models.Notification

	owners      map[string]string
	ownerErr    map[string]error
	snapshotErr error

	// 非 nil 时每次所有者查询都等待一个信号
	lookupGate chan struct{}
	lookups    int

	acknowledged []string
	resolved     []string
	read         []string
	readAll      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		owners:   make(map[string]string),
		ownerErr: make(map[string]error),
	}
}

func (s *fakeStore) ListDevicesByOwner(_ context.Context, userID string) ([]models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshotErr != nil {
		return nil, s.snapshotErr
	}
	out := []models.Device{}
	for _, d := range s.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) ListOpenAlertsForOwner(_ context.Context, userID string) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Alert{}
	for _, a := range s.alerts {
		if s.owners[a.DeviceID] == userID && a.IsOpen() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) ListRecentReadings(_ context.Context, deviceIDs []string, _ int) ([]models.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(deviceIDs))
	for _, id := range deviceIDs {
		want[id] = true
	}
	out := []models.Reading{}
	for _, r := range s.readings {
		if want[r.DeviceID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) ListRecentNotifications(_ context.Context, userID string, _ int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Notification{}
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeStore) GetDeviceOwner(ctx context.Context, deviceID string) (string, error) {
	s.mu.Lock()
	s.lookups++
	gate := s.lookupGate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ownerErr[deviceID]; err != nil {
		return "", err
	}
	owner, ok := s.owners[deviceID]
	if !ok {
		return "", errors.New("device not found")
	}
	return owner, nil
}

func (s *fakeStore) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func (s *fakeStore) Acknowledge(_ context.Context, _, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acknowledged = append(s.acknowledged, alertID)
	return nil
}

func (s *fakeStore) Resolve(_ context.Context, _, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, alertID)
	return nil
}

func (s *fakeStore) MarkAsRead(_ context.Context, _, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = append(s.read, notificationID)
	return nil
}

func (s *fakeStore) MarkAllAsRead(_ context.Context, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readAll++
	return 2, nil
}
