package recordstore

import (
	"context"
	"sync"
)

// Memory keeps sheets in process memory. It backs local development and tests;
// its state does not survive a restart.
type Memory struct {
	mu     sync.Mutex
	sheets map[string]*memSheet
}

func NewMemory() *Memory {
	return &Memory{sheets: make(map[string]*memSheet)}
}

type memRecord struct {
	version int64
	values  map[string]string
}

type memSheet struct {
	store  *Memory
	name   string
	header []string
	rows   []*memRecord
}

func (m *Memory) Sheet(ctx context.Context, name string, header []string) (Sheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sheets[name]
	if !ok {
		s = &memSheet{store: m, name: name, header: append([]string(nil), header...)}
		m.sheets[name] = s
		return s, nil
	}
	s.header, _ = mergeHeader(s.header, header)
	return s, nil
}

func (s *memSheet) Name() string { return s.name }

func (s *memSheet) Header() []string {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return append([]string(nil), s.header...)
}

func (s *memSheet) AppendRow(ctx context.Context, values map[string]string) (*Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	rec := &memRecord{version: 1, values: s.project(values)}
	s.rows = append(s.rows, rec)
	return newRow(s, int64(len(s.rows)), rec.version, rec.values), nil
}

func (s *memSheet) Rows(ctx context.Context) ([]*Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	out := make([]*Row, 0, len(s.rows))
	for i, rec := range s.rows {
		out = append(out, newRow(s, int64(i+1), rec.version, rec.values))
	}
	return out, nil
}

func (s *memSheet) Update(ctx context.Context, row *Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	idx := int(row.key) - 1
	if idx < 0 || idx >= len(s.rows) {
		return ErrNotFound
	}
	rec := s.rows[idx]
	if rec.version != row.version {
		return ErrConflict
	}
	rec.values = s.project(row.values)
	rec.version++
	row.version = rec.version
	return nil
}

// project keeps only header columns, like a spreadsheet would.
func (s *memSheet) project(values map[string]string) map[string]string {
	out := make(map[string]string, len(s.header))
	for _, col := range s.header {
		if v, ok := values[col]; ok {
			out[col] = v
		}
	}
	return out
}
