package db

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore хранилище коллекций в памяти процесса
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string][]Document
	locks   collectionLocks
	indexes indexSet
}

// NewMemoryStore создаёт пустое хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]Document)}
}

// ReadCollection возвращает снимок коллекции
func (s *MemoryStore) ReadCollection(ctx context.Context, name string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneDocs(s.data[name]), nil
}

// WriteCollection заменяет коллекцию целиком без блокировки коллекции
func (s *MemoryStore) WriteCollection(ctx context.Context, name string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.indexes.check(name, docs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = cloneDocs(docs)
	return nil
}

// Update выполняет fn под блокировками коллекций; записи применяются только при успехе fn
func (s *MemoryStore) Update(ctx context.Context, collections []string, fn func(tx Tx) error) error {
	unlock := s.locks.lockAll(collections)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:   s,
		locked:  collections,
		pending: make(map[string][]Document),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, docs := range tx.pending {
		s.data[name] = docs
	}
	return nil
}

// GenerateID возвращает уникальный идентификатор
func (s *MemoryStore) GenerateID(prefix string) string {
	return newID(prefix)
}

// RegisterUniqueIndex добавляет уникальный индекс
func (s *MemoryStore) RegisterUniqueIndex(idx UniqueIndex) {
	s.indexes.add(idx)
}

// Close ничего не делает для хранилища в памяти
func (s *MemoryStore) Close() error {
	return nil
}

type memoryTx struct {
	store   *MemoryStore
	locked  []string
	pending map[string][]Document
}

func (tx *memoryTx) ReadCollection(ctx context.Context, name string) ([]Document, error) {
	if docs, ok := tx.pending[name]; ok {
		return cloneDocs(docs), nil
	}
	return tx.store.ReadCollection(ctx, name)
}

func (tx *memoryTx) WriteCollection(ctx context.Context, name string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !slices.Contains(tx.locked, name) {
		return ErrUnknownCollection
	}
	if err := tx.store.indexes.check(name, docs); err != nil {
		return err
	}
	tx.pending[name] = cloneDocs(docs)
	return nil
}
