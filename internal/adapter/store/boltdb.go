package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"annotator/internal/domain"
	"annotator/internal/port"
)

var ErrNotFound = errors.New("record not found")

var (
	bucketRecords        = []byte("records")
	bucketProjectRecords = []byte("project_records")
	bucketMeta           = []byte("meta")
)

type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRecords, bucketProjectRecords, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Put inserts or replaces a record. A missing ID is assigned; CreatedAt is
// kept from the stored copy on replace.
func (s *BoltStore) Put(record domain.AnnotationRecord) (domain.AnnotationRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := s.now().UTC()
	record.UpdatedAt = now

	err := s.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		if existing := records.Get([]byte(record.ID)); existing != nil {
			var old domain.AnnotationRecord
			if err := json.Unmarshal(existing, &old); err != nil {
				return err
			}
			record.CreatedAt = old.CreatedAt
			if old.ProjectID != record.ProjectID {
				if err := unlinkProject(tx, old.ProjectID, old.ID); err != nil {
					return err
				}
			}
		} else if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}

		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := records.Put([]byte(record.ID), data); err != nil {
			return err
		}
		return linkProject(tx, record.ProjectID, record.ID)
	})
	return record, err
}

func (s *BoltStore) Get(id string) (domain.AnnotationRecord, error) {
	var record domain.AnnotationRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &record)
	})
	return record, err
}

func (s *BoltStore) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		data := records.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		var record domain.AnnotationRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		if err := unlinkProject(tx, record.ProjectID, id); err != nil {
			return err
		}
		return records.Delete([]byte(id))
	})
}

// List returns the records matching every non-empty filter field, newest
// first, along with the total number of matches before paging.
func (s *BoltStore) List(filter port.RecordFilter, page port.Page) ([]domain.AnnotationRecord, int, error) {
	var matches []domain.AnnotationRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketRecords)

		visit := func(v []byte) error {
			var record domain.AnnotationRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if matchesFilter(record, filter) {
				matches = append(matches, record)
			}
			return nil
		}

		if filter.ProjectID == "" {
			return records.ForEach(func(_, v []byte) error { return visit(v) })
		}

		for _, id := range projectIDs(tx, filter.ProjectID) {
			if v := records.Get([]byte(id)); v != nil {
				if err := visit(v); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})

	total := len(matches)
	start := page.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if page.Limit > 0 && start+page.Limit < total {
		end = start + page.Limit
	}
	return matches[start:end], total, nil
}

// UpdateEntities replaces a record's entities, e.g. after repair.
func (s *BoltStore) UpdateEntities(id string, entities []domain.Entity, fixStats *domain.FixStats) (domain.AnnotationRecord, error) {
	return s.update(id, func(r *domain.AnnotationRecord) {
		r.Entities = entities
		if fixStats != nil {
			r.FixStats = fixStats
		}
		r.Statistics.TotalEntities = len(entities)
	})
}

// RecordEvaluation stores the evaluator's verdicts on a record.
func (s *BoltStore) RecordEvaluation(id string, evals []domain.EntityEvaluation) (domain.AnnotationRecord, error) {
	return s.update(id, func(r *domain.AnnotationRecord) {
		r.Evaluations = evals
	})
}

func (s *BoltStore) update(id string, mutate func(*domain.AnnotationRecord)) (domain.AnnotationRecord, error) {
	var record domain.AnnotationRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		data := records.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		mutate(&record)
		record.UpdatedAt = s.now().UTC()

		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return records.Put([]byte(id), data)
	})
	return record, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func matchesFilter(r domain.AnnotationRecord, f port.RecordFilter) bool {
	if f.ProjectID != "" && r.ProjectID != f.ProjectID {
		return false
	}
	if f.Model != "" && r.Model != f.Model {
		return false
	}
	if f.Path != "" && r.Path != f.Path {
		return false
	}
	return true
}

func projectIDs(tx *bbolt.Tx, projectID string) []string {
	data := tx.Bucket(bucketProjectRecords).Get([]byte(projectID))
	if data == nil {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil
	}
	return ids
}

func linkProject(tx *bbolt.Tx, projectID, id string) error {
	if projectID == "" {
		return nil
	}
	ids := projectIDs(tx, projectID)
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	data, err := json.Marshal(append(ids, id))
	if err != nil {
		return err
	}
	return tx.Bucket(bucketProjectRecords).Put([]byte(projectID), data)
}

func unlinkProject(tx *bbolt.Tx, projectID, id string) error {
	if projectID == "" {
		return nil
	}
	ids := projectIDs(tx, projectID)
	filtered := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	b := tx.Bucket(bucketProjectRecords)
	if len(filtered) == 0 {
		return b.Delete([]byte(projectID))
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return err
	}
	return b.Put([]byte(projectID), data)
}
