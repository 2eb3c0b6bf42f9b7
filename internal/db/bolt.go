package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltStore хранилище коллекций в файле BoltDB: бакет на коллекцию,
// ключи документов задают порядок перечисления
type BoltStore struct {
	db      *bolt.DB
	indexes indexSet
}

// boltRecord конверт документа внутри бакета
type boltRecord struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

// NewBoltStore открывает (или создаёт) файл BoltDB
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога данных: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы BoltDB: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{CollectionUsers, CollectionProducts, CollectionExchanges} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("ошибка создания бакета %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// ReadCollection возвращает снимок коллекции
func (s *BoltStore) ReadCollection(ctx context.Context, name string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var docs []Document
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		docs, err = readBucket(tx, name)
		return err
	})
	return docs, err
}

// WriteCollection заменяет коллекцию целиком отдельной транзакцией
func (s *BoltStore) WriteCollection(ctx context.Context, name string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.indexes.check(name, docs); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return writeBucket(tx, name, docs)
	})
}

// Update выполняет fn в одной транзакции BoltDB; писатели BoltDB всегда сериализованы
func (s *BoltStore) Update(ctx context.Context, collections []string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx, locked: collections, indexes: &s.indexes})
	})
}

// GenerateID возвращает уникальный идентификатор
func (s *BoltStore) GenerateID(prefix string) string {
	return newID(prefix)
}

// RegisterUniqueIndex добавляет уникальный индекс
func (s *BoltStore) RegisterUniqueIndex(idx UniqueIndex) {
	s.indexes.add(idx)
}

// Close закрывает файл базы
func (s *BoltStore) Close() error {
	return s.db.Close()
}

type boltTx struct {
	tx      *bolt.Tx
	locked  []string
	indexes *indexSet
}

func (t *boltTx) ReadCollection(ctx context.Context, name string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readBucket(t.tx, name)
}

func (t *boltTx) WriteCollection(ctx context.Context, name string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !slices.Contains(t.locked, name) {
		return ErrUnknownCollection
	}
	if err := t.indexes.check(name, docs); err != nil {
		return err
	}
	return writeBucket(t.tx, name, docs)
}

func readBucket(tx *bolt.Tx, name string) ([]Document, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return []Document{}, nil
	}
	docs := make([]Document, 0, b.Stats().KeyN)
	err := b.ForEach(func(k, v []byte) error {
		var rec boltRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("ошибка разбора записи %s/%s: %w", name, k, err)
		}
		docs = append(docs, Document{ID: rec.ID, Body: rec.Body})
		return nil
	})
	return docs, err
}

func writeBucket(tx *bolt.Tx, name string, docs []Document) error {
	if tx.Bucket([]byte(name)) != nil {
		if err := tx.DeleteBucket([]byte(name)); err != nil {
			return fmt.Errorf("ошибка очистки бакета %s: %w", name, err)
		}
	}
	b, err := tx.CreateBucket([]byte(name))
	if err != nil {
		return fmt.Errorf("ошибка создания бакета %s: %w", name, err)
	}
	for i, doc := range docs {
		data, err := json.Marshal(boltRecord{ID: doc.ID, Body: doc.Body})
		if err != nil {
			return fmt.Errorf("ошибка сериализации документа %s: %w", doc.ID, err)
		}
		// Ключ-позиция сохраняет порядок коллекции при перечислении
		if err := b.Put([]byte(fmt.Sprintf("%010d", i)), data); err != nil {
			return fmt.Errorf("ошибка записи документа %s: %w", doc.ID, err)
		}
	}
	return nil
}
