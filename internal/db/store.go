package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Имена коллекций документного хранилища
const (
	CollectionUsers     = "users"
	CollectionProducts  = "products"
	CollectionExchanges = "exchanges"
)

var (
	// ErrUniqueViolation запись нарушает уникальный индекс коллекции
	ErrUniqueViolation = errors.New("нарушение уникального индекса")
	// ErrUnknownCollection коллекция не заявлена в транзакции
	ErrUnknownCollection = errors.New("коллекция не заблокирована в транзакции")
)

// Document запись коллекции: идентификатор и JSON-тело
type Document struct {
	ID   string
	Body json.RawMessage
}

// Store документное хранилище: коллекции читаются и пишутся целиком.
//
// ReadCollection/WriteCollection не синхронизированы между собой: два параллельных
// цикла чтение-изменение-запись теряют одно из обновлений. Все изменения бизнес-логики
// идут через Update, который сериализует писателей по каждой затронутой коллекции.
type Store interface {
	Reader
	Writer
	Update(ctx context.Context, collections []string, fn func(tx Tx) error) error
	GenerateID(prefix string) string
	RegisterUniqueIndex(idx UniqueIndex)
	Close() error
}

// Reader читает снимок коллекции
type Reader interface {
	ReadCollection(ctx context.Context, name string) ([]Document, error)
}

// Writer заменяет коллекцию целиком
type Writer interface {
	WriteCollection(ctx context.Context, name string, docs []Document) error
}

// Tx транзакция над заблокированными коллекциями
type Tx interface {
	Reader
	Writer
}

// UniqueIndex уникальный индекс по ключу документа.
// Key возвращает false для документов, которые индекс не покрывает.
type UniqueIndex struct {
	Collection string
	Name       string
	Key        func(doc Document) (string, bool)
}

// indexSet набор индексов хранилища, общий для всех драйверов
type indexSet struct {
	mu      sync.RWMutex
	indexes []UniqueIndex
}

func (s *indexSet) add(idx UniqueIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes = append(s.indexes, idx)
}

// check проверяет документы коллекции на нарушение индексов
func (s *indexSet) check(collection string, docs []Document) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, idx := range s.indexes {
		if idx.Collection != collection {
			continue
		}
		seen := make(map[string]string, len(docs))
		for _, doc := range docs {
			key, ok := idx.Key(doc)
			if !ok {
				continue
			}
			if other, dup := seen[key]; dup {
				return fmt.Errorf("%w: индекс %s, ключ %s, документы %s и %s",
					ErrUniqueViolation, idx.Name, key, other, doc.ID)
			}
			seen[key] = doc.ID
		}
	}
	return nil
}

// collectionLocks мьютексы коллекций внутри процесса
type collectionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *collectionLocks) get(name string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	return m
}

// lockAll блокирует коллекции в отсортированном порядке и возвращает функцию разблокировки
func (l *collectionLocks) lockAll(collections []string) func() {
	names := sortedUnique(collections)
	held := make([]*sync.Mutex, 0, len(names))
	for _, name := range names {
		m := l.get(name)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func sortedUnique(names []string) []string {
	out := slices.Clone(names)
	slices.Sort(out)
	return slices.Compact(out)
}

// newID формирует непрозрачный идентификатор с префиксом
func newID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "_" + uuid.NewString()
}

// Decode разбирает документы коллекции в типизированный срез
func Decode[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc.Body, &v); err != nil {
			return nil, fmt.Errorf("ошибка разбора документа %s: %w", doc.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Encode сериализует записи в документы, id берётся функцией idOf
func Encode[T any](records []T, idOf func(T) string) ([]Document, error) {
	docs := make([]Document, 0, len(records))
	for _, r := range records {
		body, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("ошибка сериализации документа %s: %w", idOf(r), err)
		}
		docs = append(docs, Document{ID: idOf(r), Body: body})
	}
	return docs, nil
}

// ReadAll читает и разбирает коллекцию
func ReadAll[T any](ctx context.Context, r Reader, name string) ([]T, error) {
	docs, err := r.ReadCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	return Decode[T](docs)
}

// WriteAll сериализует и записывает коллекцию целиком
func WriteAll[T any](ctx context.Context, w Writer, name string, records []T, idOf func(T) string) error {
	docs, err := Encode(records, idOf)
	if err != nil {
		return err
	}
	return w.WriteCollection(ctx, name, docs)
}

func cloneDocs(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = Document{ID: d.ID, Body: slices.Clone(d.Body)}
	}
	return out
}
