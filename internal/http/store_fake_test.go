package httpapi

import (
	"context"
	"errors"
	"sync"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/reconcile"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/repository"
)

// fakeStore 内存数据源
type fakeStore struct {
	mu            sync.Mutex
	devices       []models.Device
	notifications []models.Notification
	failSnapshot  bool

	acknowledged []string
	read         []string
}

func (s *fakeStore) ListDevicesByOwner(_ context.Context, userID string) ([]models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSnapshot {
		return nil, errors.New("database is down")
	}
	out := []models.Device{}
	for _, d := range s.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) ListOpenAlertsForOwner(context.Context, string) ([]models.Alert, error) {
	return []models.Alert{}, nil
}

func (s *fakeStore) ListRecentReadings(context.Context, []string, int) ([]models.Reading, error) {
	return []models.Reading{}, nil
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

func (s *fakeStore) GetDeviceOwner(_ context.Context, deviceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.ID == deviceID {
			return d.UserID, nil
		}
	}
	return "", repository.ErrNotFound
}

func (s *fakeStore) Acknowledge(_ context.Context, _, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alertID == "missing" {
		return repository.ErrNotFound
	}
	s.acknowledged = append(s.acknowledged, alertID)
	return nil
}

func (s *fakeStore) Resolve(_ context.Context, _, alertID string) error {
	if alertID == "missing" {
		return repository.ErrNotFound
	}
	return nil
}

func (s *fakeStore) MarkAsRead(_ context.Context, _, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = append(s.read, notificationID)
	return nil
}

func (s *fakeStore) MarkAllAsRead(context.Context, string) (int64, error) {
	return 5, nil
}

// fakeSummaryReader 固定返回的摘要缓存
type fakeSummaryReader struct {
	summary *reconcile.Summary
	err     error
	reads   int
}

func (f *fakeSummaryReader) Get(ctx context.Context, userID string) (*reconcile.Summary, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}
