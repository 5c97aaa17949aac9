package contacts

import (
	"context"
	"errors"
	"sort"
	"time"
)

const (
	DefaultLimit      = 100
	MaxLimit          = 1000
	birthdayWindowDay = 7
)

// ErrIntegrity is returned when a contact collides with another contact of
// the same owner.
var ErrIntegrity = errors.New("Помилка цілісності даних.")

type Store interface {
	List(ctx context.Context, userID int64, filter ListFilter) ([]Contact, error)
	Get(ctx context.Context, userID, id int64) (Contact, error)
	Create(ctx context.Context, userID int64, input ContactInput) (Contact, error)
	Update(ctx context.Context, userID, id int64, input ContactInput) (Contact, error)
	Delete(ctx context.Context, userID, id int64) (Contact, error)
	UpcomingBirthdays(ctx context.Context, userID int64, from time.Time, days int) ([]Contact, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) List(ctx context.Context, userID int64, filter ListFilter) ([]Contact, error) {
	if filter.Skip < 0 {
		filter.Skip = 0
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	return s.store.List(ctx, userID, filter)
}

func (s *Service) Get(ctx context.Context, userID, id int64) (Contact, error) {
	return s.store.Get(ctx, userID, id)
}

func (s *Service) Create(ctx context.Context, userID int64, input ContactInput) (Contact, error) {
	contact, err := s.store.Create(ctx, userID, input)
	if errors.Is(err, ErrDuplicate) {
		return Contact{}, ErrIntegrity
	}
	return contact, err
}

func (s *Service) Update(ctx context.Context, userID, id int64, input ContactInput) (Contact, error) {
	contact, err := s.store.Update(ctx, userID, id, input)
	if errors.Is(err, ErrDuplicate) {
		return Contact{}, ErrIntegrity
	}
	return contact, err
}

func (s *Service) Delete(ctx context.Context, userID, id int64) (Contact, error) {
	return s.store.Delete(ctx, userID, id)
}

// UpcomingBirthdays lists contacts with a birthday within the next week,
// soonest first.
func (s *Service) UpcomingBirthdays(ctx context.Context, userID int64) ([]Contact, error) {
	today := s.now().UTC()
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	found, err := s.store.UpcomingBirthdays(ctx, userID, today, birthdayWindowDay)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(found, func(i, j int) bool {
		return daysUntilBirthday(today, found[i].Birthday) < daysUntilBirthday(today, found[j].Birthday)
	})
	return found, nil
}

// daysUntilBirthday counts days from today to the next occurrence of the
// birthday's month and day. Feb 29 falls on Mar 1 in non-leap years.
func daysUntilBirthday(today time.Time, birthday Date) int {
	next := time.Date(today.Year(), birthday.Month(), birthday.Day(), 0, 0, 0, 0, time.UTC)
	if next.Before(today) {
		next = time.Date(today.Year()+1, birthday.Month(), birthday.Day(), 0, 0, 0, 0, time.UTC)
	}
	return int(next.Sub(today).Hours() / 24)
}
