// Package localstore содержит локальное key/value-хранилище и построенный на нём кэш флагов кассы.
package localstore

import "context"

// Store задаёт минимальный контракт локального key/value-хранилища.
type Store interface {
	// Get возвращает значение и признак его наличия.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Watcher реализуют хранилища, умеющие сообщать об изменениях, сделанных другими процессами.
type Watcher interface {
	// Watch блокируется до отмены ctx и вызывает onChange для каждого изменённого ключа.
	Watch(ctx context.Context, onChange func(key string)) error
}
