package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

type contactModel struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	FirstName string    `gorm:"column:first_name"`
	LastName  string    `gorm:"column:last_name"`
	Email     string    `gorm:"column:email"`
	Phone     string    `gorm:"column:phone"`
	Birthday  time.Time `gorm:"column:birthday;type:date"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
	UserID    int64     `gorm:"column:user_id"`
}

func (contactModel) TableName() string { return "contacts" }

func (m contactModel) toContact() Contact {
	return Contact{
		ID:        m.ID,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Email:     m.Email,
		Phone:     m.Phone,
		Birthday:  Date{Time: m.Birthday.UTC()},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context, userID int64, filter ListFilter) ([]Contact, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if name := strings.TrimSpace(filter.Name); name != "" {
		pattern := likePattern(name)
		query = query.Where("(first_name ILIKE ? OR last_name ILIKE ?)", pattern, pattern)
	}
	if email := strings.TrimSpace(filter.Email); email != "" {
		query = query.Where("email ILIKE ?", likePattern(email))
	}

	var recs []contactModel
	if err := query.Order("id ASC").Offset(filter.Skip).Limit(filter.Limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}

	return toContacts(recs), nil
}

func (r *Repository) Get(ctx context.Context, userID, id int64) (Contact, error) {
	rec, err := r.take(r.db.WithContext(ctx), userID, id)
	if err != nil {
		return Contact{}, err
	}
	return rec.toContact(), nil
}

func (r *Repository) Create(ctx context.Context, userID int64, input ContactInput) (Contact, error) {
	now := time.Now().UTC()
	rec := contactModel{
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Email:     input.Email,
		Phone:     input.Phone,
		Birthday:  input.Birthday.Time,
		CreatedAt: now,
		UpdatedAt: now,
		UserID:    userID,
	}

	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Contact{}, ErrDuplicate
		}
		return Contact{}, fmt.Errorf("insert contact: %w", err)
	}

	return rec.toContact(), nil
}

func (r *Repository) Update(ctx context.Context, userID, id int64, input ContactInput) (Contact, error) {
	var updated contactModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&contactModel{}).
			Where("id = ? AND user_id = ?", id, userID).
			Updates(map[string]any{
				"first_name": input.FirstName,
				"last_name":  input.LastName,
				"email":      input.Email,
				"phone":      input.Phone,
				"birthday":   input.Birthday.Time,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		rec, err := r.take(tx, userID, id)
		if err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return Contact{}, ErrNotFound
		case errors.Is(err, gorm.ErrDuplicatedKey):
			return Contact{}, ErrDuplicate
		}
		return Contact{}, fmt.Errorf("update contact: %w", err)
	}

	return updated.toContact(), nil
}

// Delete removes the contact and returns it as it was before deletion.
func (r *Repository) Delete(ctx context.Context, userID, id int64) (Contact, error) {
	var deleted contactModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := r.take(tx, userID, id)
		if err != nil {
			return err
		}
		if err := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&contactModel{}).Error; err != nil {
			return err
		}
		deleted = rec
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, fmt.Errorf("delete contact: %w", err)
	}

	return deleted.toContact(), nil
}

// UpcomingBirthdays returns contacts whose birthday falls on one of the
// days in [from, from+days].
func (r *Repository) UpcomingBirthdays(ctx context.Context, userID int64, from time.Time, days int) ([]Contact, error) {
	start, end := birthdayWindow(from, days)

	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if start <= end {
		query = query.Where("to_char(birthday, 'MM-DD') BETWEEN ? AND ?", start, end)
	} else {
		query = query.Where("(to_char(birthday, 'MM-DD') >= ? OR to_char(birthday, 'MM-DD') <= ?)", start, end)
	}

	var recs []contactModel
	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query birthdays: %w", err)
	}

	return toContacts(recs), nil
}

func (r *Repository) take(tx *gorm.DB, userID, id int64) (contactModel, error) {
	var rec contactModel
	if err := tx.Where("id = ? AND user_id = ?", id, userID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return contactModel{}, ErrNotFound
		}
		return contactModel{}, fmt.Errorf("query contact: %w", err)
	}
	return rec, nil
}

func toContacts(recs []contactModel) []Contact {
	out := make([]Contact, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toContact())
	}
	return out
}

// birthdayWindow returns the MM-DD bounds of the window. start > end means
// the window wraps over the new year. Feb 29 birthdays fall on Mar 1 in
// non-leap years, so a window opening on that Mar 1 starts at "02-29".
func birthdayWindow(from time.Time, days int) (string, string) {
	start := from.Format("01-02")
	if start == "03-01" && !isLeapYear(from.Year()) {
		start = "02-29"
	}
	return start, from.AddDate(0, 0, days).Format("01-02")
}

func isLeapYear(year int) bool {
	return time.Date(year, time.February, 29, 0, 0, 0, 0, time.UTC).Month() == time.February
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(value string) string {
	return "%" + likeEscaper.Replace(value) + "%"
}
