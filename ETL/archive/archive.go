package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"

	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

// Драйверы хранилища архива
const (
	DriverFilesystem = "fs"
	DriverS3         = "s3"
)

const (
	backupSuffix     = ".backup"
	compressedSuffix = ".sz"
)

// Config настройки архивирования обработанных файлов
type Config struct {
	Driver   string   `mapstructure:"driver"`
	Dir      string   `mapstructure:"dir"`
	Compress bool     `mapstructure:"compress"`
	S3       S3Config `mapstructure:"s3"`
}

// Store принимает архивные копии файлов
type Store interface {
	Put(ctx context.Context, name string, body io.ReadSeeker) error
}

// Archiver переносит обработанные файлы выгрузок в архив
type Archiver struct {
	store    Store
	compress bool
	logger   *utils.ETLLogger
}

// New создает Archiver с хранилищем, выбранным в конфигурации
func New(ctx context.Context, cfg Config, logger *utils.ETLLogger) (*Archiver, error) {
	var store Store
	var err error
	switch cfg.Driver {
	case "", DriverFilesystem:
		store, err = NewFilesystemStore(cfg.Dir)
	case DriverS3:
		store, err = NewS3Store(ctx, cfg.S3)
	default:
		err = fmt.Errorf("неизвестный драйвер архива %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return NewArchiver(store, cfg.Compress, logger), nil
}

// NewArchiver создает новый экземпляр Archiver
func NewArchiver(store Store, compress bool, logger *utils.ETLLogger) *Archiver {
	return &Archiver{
		store:    store,
		compress: compress,
		logger:   logger,
	}
}

// Name возвращает имя архивной копии файла
func (a *Archiver) Name(path string) string {
	name := filepath.Base(path) + backupSuffix
	if a.compress {
		name += compressedSuffix
	}
	return name
}

// Archive сохраняет каждый файл в архив под именем <файл>.backup и удаляет оригинал.
// Возвращает количество перенесённых файлов.
func (a *Archiver) Archive(ctx context.Context, paths []string) (int, error) {
	startTime := time.Now()
	moved := 0
	for _, path := range paths {
		if err := a.archiveFile(ctx, path); err != nil {
			return moved, fmt.Errorf("ошибка архивирования %s: %w", path, err)
		}
		moved++
	}
	a.logger.Info("В архив перенесено файлов: %d (%v)", moved, time.Since(startTime))
	return moved, nil
}

func (a *Archiver) archiveFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if a.compress {
		var buf bytes.Buffer
		w := snappy.NewBufferedWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		data = buf.Bytes()
	}

	name := a.Name(path)
	if err := a.store.Put(ctx, name, bytes.NewReader(data)); err != nil {
		return err
	}
	a.logger.Debug("Файл %s сохранён как %s", path, name)
	return os.Remove(path)
}
