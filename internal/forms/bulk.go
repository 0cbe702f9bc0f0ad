package forms

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"formbridge/internal/model"
)

// DeleteOverArchiveLimit removes the oldest submissions beyond the
// retention cap in one bulk operation. Callers on the free tier
// invoke this probabilistically, so temporary overshoot is expected.
func (s *Service) DeleteOverArchiveLimit(form *model.Form) error {
	keep := s.cfg.Service.ArchivedSubmissionsCap

	var total int64
	if err := s.db.Model(&model.Submission{}).Where("form_id = ?", form.ID).Count(&total).Error; err != nil {
		return fmt.Errorf("failed to count submissions for form %d: %w", form.ID, err)
	}
	excess := int(total) - keep
	if excess <= 0 {
		return nil
	}

	var ids []uint
	if err := s.db.Model(&model.Submission{}).
		Where("form_id = ?", form.ID).
		Order("submitted_at ASC").
		Limit(excess).
		Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("failed to select submissions to prune for form %d: %w", form.ID, err)
	}
	if err := s.db.Delete(&model.Submission{}, ids).Error; err != nil {
		return fmt.Errorf("failed to prune submissions for form %d: %w", form.ID, err)
	}

	logrus.WithFields(logrus.Fields{"form": form.ID, "deleted": len(ids)}).
		Info("Pruned submissions over archive limit")
	return nil
}

// SetSpam flips the spam flag on the given submissions. The lifetime
// counter moves with each submission whose flag actually changes:
// down when it becomes spam, back up when it is restored.
func (s *Service) SetSpam(form *model.Form, ids []uint, spam bool) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var subs []model.Submission
		if err := tx.Where("form_id = ? AND id IN ?", form.ID, ids).Find(&subs).Error; err != nil {
			return fmt.Errorf("failed to load submissions: %w", err)
		}

		delta := 0
		var changed []uint
		for i := range subs {
			if subs[i].IsSpam() == spam {
				continue
			}
			changed = append(changed, subs[i].ID)
			if spam {
				delta--
			} else {
				delta++
			}
		}
		if len(changed) == 0 {
			return nil
		}

		if err := tx.Model(&model.Submission{}).Where("id IN ?", changed).
			Update("spam", spam).Error; err != nil {
			return fmt.Errorf("failed to update spam flags: %w", err)
		}
		if err := tx.Model(&model.Form{}).Where("id = ?", form.ID).
			UpdateColumn("counter", gorm.Expr("counter + ?", delta)).Error; err != nil {
			return fmt.Errorf("failed to adjust counter: %w", err)
		}
		form.Counter += delta
		return nil
	})
}

// DeleteSubmissions removes the given submissions, decrementing the
// lifetime counter once per deleted non-spam submission
func (s *Service) DeleteSubmissions(form *model.Form, ids []uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var subs []model.Submission
		if err := tx.Where("form_id = ? AND id IN ?", form.ID, ids).Find(&subs).Error; err != nil {
			return fmt.Errorf("failed to load submissions: %w", err)
		}

		delta := 0
		var matched []uint
		for i := range subs {
			matched = append(matched, subs[i].ID)
			if !subs[i].IsSpam() {
				delta--
			}
		}
		if len(matched) == 0 {
			return nil
		}

		if err := tx.Delete(&model.Submission{}, matched).Error; err != nil {
			return fmt.Errorf("failed to delete submissions: %w", err)
		}
		if delta != 0 {
			if err := tx.Model(&model.Form{}).Where("id = ?", form.ID).
				UpdateColumn("counter", gorm.Expr("counter + ?", delta)).Error; err != nil {
				return fmt.Errorf("failed to adjust counter: %w", err)
			}
			form.Counter += delta
		}
		return nil
	})
}

// ResetAPIKey rotates the form's API key. The read-only key is
// derived from it, so both rotate together.
func (s *Service) ResetAPIKey(form *model.Form) error {
	key := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.db.Model(&model.Form{}).Where("id = ?", form.ID).
		Update("api_key", key).Error; err != nil {
		return fmt.Errorf("failed to reset api key for form %d: %w", form.ID, err)
	}
	form.APIKey = &key
	return nil
}

// SubmissionsWithFields loads the form's stored submissions and the
// union of their field names, excluding control keys. Used by the
// list endpoint and the spreadsheet initial sync.
func (s *Service) SubmissionsWithFields(form *model.Form, spam bool, limit int) ([]map[string]string, []string, error) {
	q := s.db.Where("form_id = ?", form.ID)
	if spam {
		q = q.Where("spam = ?", true)
	} else {
		q = q.Where("spam IS NULL OR spam = ?", false)
	}

	var subs []model.Submission
	if err := q.Order("id DESC").Limit(limit).Find(&subs).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load submissions for form %d: %w", form.ID, err)
	}

	fieldSet := make(map[string]bool)
	rows := make([]map[string]string, 0, len(subs))
	for i := range subs {
		row := make(map[string]string, len(subs[i].Data)+2)
		for k, v := range subs[i].Data {
			if model.KeysNotStored[k] {
				continue
			}
			row[k] = v
			fieldSet[k] = true
		}
		row["_date"] = subs[i].SubmittedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		row["_id"] = fmt.Sprintf("%d", subs[i].ID)
		rows = append(rows, row)
	}

	fields := []string{"_id", "_date"}
	names := make([]string, 0, len(fieldSet))
	for k := range fieldSet {
		names = append(names, k)
	}
	sort.Strings(names)
	fields = append(fields, names...)

	return rows, fields, nil
}
