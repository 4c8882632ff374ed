package stash

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"daftie-backend/services/stash/db"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/stash")

const KeyPrefix = "property:"
const ControlsKey = "global-controls"

// storage key for a listing, derived from its stable identifier (or
// full href when no identifier could be derived)
func Key(id string) string {
	return KeyPrefix + id
}

type CostEntry struct {
	Date  time.Time `json:"date"`
	Value string    `json:"value"`
}

type CardMetadata struct {
	Hidden bool        `json:"hidden,omitempty"`
	Notes  string      `json:"notes,omitempty"`
	Costs  []CostEntry `json:"costs,omitempty"`
}

// a record with no set fields is logically absent and never persisted
func (m *CardMetadata) IsEmpty() bool {
	return !m.Hidden && m.Notes == "" && len(m.Costs) == 0
}

// appends a cost entry when the observed value differs from the last
// recorded one. dedup is by value, not by date: observing the same
// price on three passes appends exactly once.
func (m *CardMetadata) RecordCost(now time.Time, value string) bool {
	if value == "" {
		return false
	}
	if len(m.Costs) > 0 && m.Costs[len(m.Costs)-1].Value == value {
		return false
	}
	m.Costs = append(m.Costs, CostEntry{Date: now, Value: value})
	return true
}

type GlobalControls struct {
	HiddenEnabled bool     `json:"hiddenEnabled"`
	HideList      []string `json:"hideList"`
}

func DefaultControls() GlobalControls {
	return GlobalControls{HiddenEnabled: true}
}

// Store is the session's authoritative view of per-listing metadata
// and global controls, backed by the kv database. The initial bulk
// Load must complete before any record is handed out; keys absent from
// that read are treated as new for the rest of the session.
//
// Callers mutate records through a single goroutine (the overlay
// session serializes all access) and then request a Save; the store
// itself only guards its own bookkeeping.
type Store struct {
	db  *sql.DB
	qry *db.Queries

	mu          sync.Mutex
	records     map[string]*CardMetadata
	controls    GlobalControls
	controlsSet bool
	saving      bool
	dirty       bool
	saveDone    chan struct{}
}

func NewStore(database *sql.DB) *Store {
	return &Store{
		db:       database,
		qry:      db.New(database),
		records:  map[string]*CardMetadata{},
		controls: DefaultControls(),
	}
}

// bulk-reads the records for the given storage keys plus the global
// controls singleton. External state fills keys this session has not
// touched; records already mutated in memory are left alone.
func (s *Store) Load(ctx context.Context, keys []string) error {
	ctx, span := tracer.Start(ctx, "Load")
	defer span.End()

	rows, err := s.qry.GetValues(ctx, append(keys, ControlsKey))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return s.merge(ctx, rows)
}

// reads every persisted record, used by the CLI where no page narrows
// the key set
func (s *Store) LoadAll(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "LoadAll")
	defer span.End()

	rows, err := s.qry.ListValues(ctx, KeyPrefix)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	controls, err := s.qry.GetValue(ctx, ControlsKey)
	if err == nil {
		rows = append(rows, db.KV{Key: ControlsKey, Value: controls})
	} else if err != sql.ErrNoRows {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return s.merge(ctx, rows)
}

// In-memory state is authoritative for the whole session: a record
// already mutated here wins over its persisted row even when a later
// bulk read (pages re-load on every bootstrap) returns the stale
// version before the fire-and-forget save has committed. Only keys
// that are still untouched in memory take the external state.
func (s *Store) merge(ctx context.Context, rows []db.KV) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		if row.Key == ControlsKey {
			if s.controlsSet {
				continue
			}
			var controls GlobalControls
			err := json.Unmarshal([]byte(row.Value), &controls)
			if err != nil {
				return fmt.Errorf("%s: %w", ControlsKey, err)
			}
			s.controls = controls
			continue
		}
		if existing, ok := s.records[row.Key]; ok && !existing.IsEmpty() {
			continue
		}
		var meta CardMetadata
		err := json.Unmarshal([]byte(row.Value), &meta)
		if err != nil {
			slog.WarnContext(ctx, "skipping malformed metadata record", "key", row.Key, "err", err)
			continue
		}
		s.records[row.Key] = &meta
	}
	return nil
}

// returns the existing record for the key or mints an empty one,
// registered in memory but not yet persisted
func (s *Store) Get(key string) *CardMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.records[key]
	if meta == nil {
		meta = &CardMetadata{}
		s.records[key] = meta
	}
	return meta
}

// Snapshot copies out the in-memory records for listing purposes.
// Mutating the copies has no effect on the store.
func (s *Store) Snapshot() map[string]CardMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]CardMetadata, len(s.records))
	for key, meta := range s.records {
		out[key] = *meta
	}
	return out
}

func (s *Store) Controls() GlobalControls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controls
}

func (s *Store) SetControls(controls GlobalControls) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if controls.HideList == nil {
		controls.HideList = []string{}
	}
	s.controls = controls
	// from here on the in-memory controls are authoritative; later
	// bulk reads must not revert them
	s.controlsSet = true
}

// Save issues a batched write of the whole in-memory state. At most
// one write is ever outstanding: a Save requested while one is in
// flight marks the state dirty and the writer runs once more after the
// current write resolves. Failures go to the log; in-memory state is
// never rolled back.
func (s *Store) Save(ctx context.Context) {
	s.mu.Lock()
	if s.saving {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.saving = true
	s.saveDone = make(chan struct{})
	done := s.saveDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		ctx := context.WithoutCancel(ctx)
		for {
			err := s.persist(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "failed to persist stash", "err", err)
			}

			s.mu.Lock()
			if !s.dirty {
				s.saving = false
				s.mu.Unlock()
				return
			}
			s.dirty = false
			s.mu.Unlock()
		}
	}()
}

// blocks until no write is outstanding, then writes synchronously.
// Used at shutdown and in tests.
func (s *Store) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		done := s.saveDone
		saving := s.saving
		s.mu.Unlock()
		if !saving {
			break
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.persist(ctx)
}

func (s *Store) persist(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "persist")
	defer span.End()

	type pending struct {
		key     string
		value   string
		deleted bool
	}

	s.mu.Lock()
	batch := make([]pending, 0, len(s.records)+1)
	for key, meta := range s.records {
		// emptiness is evaluated at save time: a record cleared back to
		// empty is dropped even if it was persisted with content before
		if meta.IsEmpty() {
			batch = append(batch, pending{key: key, deleted: true})
			continue
		}
		value, err := json.Marshal(meta)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		batch = append(batch, pending{key: key, value: string(value)})
	}
	controls, err := json.Marshal(s.controls)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	batch = append(batch, pending{key: ControlsKey, value: string(controls)})
	s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	for _, p := range batch {
		if p.deleted {
			err = txqry.DeleteValue(ctx, p.key)
		} else {
			err = txqry.SetValue(ctx, db.KV{Key: p.key, Value: p.value})
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return tx.Commit()
}
