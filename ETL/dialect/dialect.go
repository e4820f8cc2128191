package dialect

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Поддерживаемые диалекты хранилища
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// ErrInvalidIdentifier возвращается для имени таблицы или колонки,
// которое нельзя безопасно подставить в SQL
var ErrInvalidIdentifier = errors.New("недопустимый идентификатор")

// ErrUnknownDialect возвращается для неподдерживаемого драйвера
var ErrUnknownDialect = errors.New("неизвестный диалект")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Dialect описывает различия SQL между поддерживаемыми СУБД
type Dialect interface {
	// Name возвращает имя диалекта (postgres, mysql, sqlite)
	Name() string
	// DriverName возвращает имя драйвера database/sql
	DriverName() string
	// Builder возвращает построитель запросов с нужным форматом плейсхолдеров
	Builder() sq.StatementBuilderType
	// DistinctFrom возвращает NULL-безопасное условие "a отличается от b"
	DistinctFrom(a, b string) string
	// NotDistinctFrom возвращает NULL-безопасное условие "a совпадает с b"
	NotDistinctFrom(a, b string) string
	// CastTimestamp приводит выражение к типу метки времени
	CastTimestamp(expr string) string
}

// New возвращает диалект по имени
func New(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case Postgres, "pgx", "postgresql":
		return postgresDialect{}, nil
	case MySQL:
		return mysqlDialect{}, nil
	case SQLite, "sqlite3":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
}

// ValidateIdentifier проверяет имя таблицы (допускается схема) или колонки
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// ValidateIdentifiers проверяет набор идентификаторов
func ValidateIdentifiers(names ...string) error {
	for _, name := range names {
		if err := ValidateIdentifier(name); err != nil {
			return err
		}
	}
	return nil
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return Postgres }
func (postgresDialect) DriverName() string { return "pgx" }
func (postgresDialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}
func (postgresDialect) DistinctFrom(a, b string) string {
	return fmt.Sprintf("%s IS DISTINCT FROM %s", a, b)
}
func (postgresDialect) NotDistinctFrom(a, b string) string {
	return fmt.Sprintf("%s IS NOT DISTINCT FROM %s", a, b)
}
func (postgresDialect) CastTimestamp(expr string) string {
	return fmt.Sprintf("CAST(%s AS TIMESTAMP)", expr)
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string       { return MySQL }
func (mysqlDialect) DriverName() string { return "mysql" }
func (mysqlDialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}
func (mysqlDialect) DistinctFrom(a, b string) string {
	return fmt.Sprintf("NOT (%s <=> %s)", a, b)
}
func (mysqlDialect) NotDistinctFrom(a, b string) string {
	return fmt.Sprintf("%s <=> %s", a, b)
}
func (mysqlDialect) CastTimestamp(expr string) string {
	return fmt.Sprintf("CAST(%s AS DATETIME)", expr)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return SQLite }
func (sqliteDialect) DriverName() string { return "sqlite" }
func (sqliteDialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}
func (sqliteDialect) DistinctFrom(a, b string) string {
	return fmt.Sprintf("%s IS NOT %s", a, b)
}
func (sqliteDialect) NotDistinctFrom(a, b string) string {
	return fmt.Sprintf("%s IS %s", a, b)
}

// В SQLite CAST(... AS TIMESTAMP) даёт числовую аффинность, поэтому значение
// передаётся как есть.
func (sqliteDialect) CastTimestamp(expr string) string { return expr }
