package config

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/LilVoxy/coursework_dwh/ETL/dialect"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

// DSN возвращает строку подключения для драйвера database/sql
func (c DatabaseConfig) DSN() (string, error) {
	d, err := dialect.New(c.Driver)
	if err != nil {
		return "", err
	}

	switch d.Name() {
	case dialect.Postgres:
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Path:   "/" + c.DBName,
		}
		if c.User != "" {
			u.User = url.UserPassword(c.User, c.Password)
		}
		q := url.Values{}
		if c.SSLMode != "" {
			q.Set("sslmode", c.SSLMode)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil

	case dialect.MySQL:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.DBName
		mc.ParseTime = true
		mc.Loc = time.UTC
		return mc.FormatDSN(), nil

	default:
		path := c.Path
		if path == "" {
			path = c.DBName
		}
		if path == "" {
			return "", fmt.Errorf("не задан файл базы SQLite")
		}
		return path + "?_time_format=sqlite", nil
	}
}

// Connections содержит подключения к хранилищу и (необязательно) к банковской базе
type Connections struct {
	Warehouse *sql.DB
	Dialect   dialect.Dialect
	// Source равен nil, если банковская база не настроена
	Source *sql.DB
}

func open(ctx context.Context, cfg DatabaseConfig) (*sql.DB, dialect.Dialect, error) {
	d, err := dialect.New(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, nil, err
	}

	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, d, nil
}

// ConnectDatabases устанавливает подключения к хранилищу и банковской базе
func ConnectDatabases(ctx context.Context, cfg *DWHConfig) (*Connections, error) {
	var conns Connections

	warehouse, d, err := open(ctx, cfg.Warehouse)
	if err != nil {
		return nil, fmt.Errorf("не удалось установить соединение с хранилищем: %w", err)
	}
	// Шаги синхронизации выполняются последовательно в одной транзакции за раз
	warehouse.SetMaxOpenConns(1)
	conns.Warehouse = warehouse
	conns.Dialect = d

	if cfg.Source.Driver != "" {
		source, _, err := open(ctx, cfg.Source)
		if err != nil {
			warehouse.Close()
			return nil, fmt.Errorf("не удалось установить соединение с банковской базой: %w", err)
		}
		source.SetMaxOpenConns(5)
		conns.Source = source
	}

	return &conns, nil
}

// CloseDatabases закрывает подключения к базам данных
func CloseDatabases(conns *Connections, logger *utils.ETLLogger) {
	if conns == nil {
		return
	}
	if conns.Source != nil {
		if err := conns.Source.Close(); err != nil {
			logger.Error("Ошибка при закрытии соединения с банковской базой: %v", err)
		}
	}
	if conns.Warehouse != nil {
		if err := conns.Warehouse.Close(); err != nil {
			logger.Error("Ошибка при закрытии соединения с хранилищем: %v", err)
		}
	}
	logger.Info("Соединения с базами данных закрыты")
}
