package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/LilVoxy/coursework_dwh/ETL/archive"
	"github.com/LilVoxy/coursework_dwh/ETL/catalog"
	"github.com/LilVoxy/coursework_dwh/ETL/dialect"
	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

// ErrInvalidConfig возвращается при ошибке проверки конфигурации
var ErrInvalidConfig = errors.New("некорректная конфигурация")

// EnvPrefix префикс переменных окружения (DWH_WAREHOUSE_PASSWORD и т.п.)
const EnvPrefix = "DWH"

// DWHConfig содержит конфигурацию синхронизации хранилища
type DWHConfig struct {
	// Каталог: слой -> {логическое имя -> таблица}
	Tables map[string]map[string]string `mapstructure:"tables"`

	// Правила SCD2 по сущностям
	SCD2 map[string]models.SCD2Rule `mapstructure:"scd2"`

	// Перенос staging -> факты: колонка staging -> колонка факта
	FactMapping map[string]map[string]string `mapstructure:"fact_mapping"`

	// Ключевые колонки staging для поиска существующих фактов (необязательно)
	FactKeys map[string][]string `mapstructure:"fact_keys"`

	// Шаблоны имён файлов выгрузок по сущностям
	Patterns map[string]string `mapstructure:"patterns"`

	// Подготовка пакетов по сущностям
	Preprocess map[string]models.PreprocessRule `mapstructure:"preprocess"`

	DataDir      string `mapstructure:"data_dir"`
	CSVSeparator string `mapstructure:"csv_sep"`

	Archive   archive.Config     `mapstructure:"archive"`
	Warehouse DatabaseConfig     `mapstructure:"warehouse"`
	Source    DatabaseConfig     `mapstructure:"source"`
	Log       utils.LoggerConfig `mapstructure:"log"`
	Schedule  ScheduleConfig     `mapstructure:"schedule"`
	HTTP      HTTPConfig         `mapstructure:"http"`

	// Создавать таблицы хранилища перед запуском
	InitSchema bool `mapstructure:"init_schema"`

	catalog *catalog.Catalog
}

// DatabaseConfig содержит настройки подключения к базе данных
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// Path файл базы SQLite
	Path string `mapstructure:"path"`
}

// ScheduleConfig периодический запуск
type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// HTTPConfig сервер отчётов
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("csv_sep", ";")
	v.SetDefault("init_schema", true)

	v.SetDefault("archive.driver", archive.DriverFilesystem)
	v.SetDefault("archive.dir", "archive")
	v.SetDefault("archive.compress", false)
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.region", "")
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.prefix", "")
	v.SetDefault("archive.s3.access_key_id", "")
	v.SetDefault("archive.s3.secret_access_key", "")
	v.SetDefault("archive.s3.path_style", false)

	for _, db := range []string{"warehouse", "source"} {
		v.SetDefault(db+".host", "localhost")
		v.SetDefault(db+".port", 5432)
		v.SetDefault(db+".user", "")
		v.SetDefault(db+".password", "")
		v.SetDefault(db+".dbname", "")
		v.SetDefault(db+".sslmode", "disable")
		v.SetDefault(db+".path", "")
	}
	v.SetDefault("warehouse.driver", dialect.Postgres)
	v.SetDefault("source.driver", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.verbose", false)

	v.SetDefault("schedule.interval", 24*time.Hour)
	v.SetDefault("http.addr", ":8080")
}

// bindLegacyEnv разрешает переменные DB_* как запасной вариант для обеих баз
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"dbname":   "DB_NAME",
		"host":     "DB_HOST",
		"user":     "DB_USER",
		"password": "DB_PASS",
		"port":     "DB_PORT",
	}
	for _, db := range []string{"warehouse", "source"} {
		for field, env := range legacy {
			key := db + "." + field
			primary := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
			if err := v.BindEnv(key, primary, env); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load читает конфигурацию из файла path (по умолчанию conf.yaml в текущем
// каталоге), переменных окружения и значений по умолчанию, затем проверяет её
func Load(path string) (*DWHConfig, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("conf")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, fmt.Errorf("ошибка настройки переменных окружения: %w", err)
	}

	// archive_dir прежнее имя параметра
	if v.IsSet("archive_dir") && !v.InConfig("archive.dir") {
		v.Set("archive.dir", v.GetString("archive_dir"))
	}

	var cfg DWHConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет конфигурацию и строит каталог таблиц
func (c *DWHConfig) Validate() error {
	cat, err := catalog.New(c.Tables)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if _, err := dialect.New(c.Warehouse.Driver); err != nil {
		return fmt.Errorf("%w: хранилище: %v", ErrInvalidConfig, err)
	}
	if c.Source.Driver != "" {
		if _, err := dialect.New(c.Source.Driver); err != nil {
			return fmt.Errorf("%w: источник: %v", ErrInvalidConfig, err)
		}
	}

	for _, entity := range sortedKeys(c.SCD2) {
		if !cat.Dim.Has(entity) || !cat.Stg.Has(entity) {
			return fmt.Errorf("%w: правило scd2 %q: нет таблиц DIM/STG", ErrInvalidConfig, entity)
		}
		if err := c.SCD2[entity].Validate(); err != nil {
			return fmt.Errorf("%w: правило scd2 %q: %v", ErrInvalidConfig, entity, err)
		}
	}

	for entity, mapping := range c.FactMappings() {
		if !cat.Fact.Has(entity) || !cat.Stg.Has(entity) {
			return fmt.Errorf("%w: fact_mapping %q: нет таблиц FACT/STG", ErrInvalidConfig, entity)
		}
		if err := mapping.Validate(); err != nil {
			return fmt.Errorf("%w: fact_mapping %q: %v", ErrInvalidConfig, entity, err)
		}
	}
	for entity := range c.FactKeys {
		if _, ok := c.FactMapping[entity]; !ok {
			return fmt.Errorf("%w: fact_keys %q без fact_mapping", ErrInvalidConfig, entity)
		}
	}

	if c.Schedule.Interval < 0 {
		return fmt.Errorf("%w: schedule.interval не может быть отрицательным", ErrInvalidConfig)
	}
	if len([]rune(c.CSVSeparator)) > 1 {
		return fmt.Errorf("%w: csv_sep должен быть одним символом", ErrInvalidConfig)
	}

	c.catalog = cat
	return nil
}

// Catalog возвращает каталог, построенный при проверке конфигурации
func (c *DWHConfig) Catalog() *catalog.Catalog {
	return c.catalog
}

// SCD2Rules возвращает правила SCD2 по сущностям
func (c *DWHConfig) SCD2Rules() map[string]models.SCD2Rule {
	return c.SCD2
}

// FactMappings объединяет fact_mapping и fact_keys
func (c *DWHConfig) FactMappings() map[string]models.FactMapping {
	mappings := make(map[string]models.FactMapping, len(c.FactMapping))
	for entity, columns := range c.FactMapping {
		mappings[entity] = models.FactMapping{
			Columns:    columns,
			KeyColumns: c.FactKeys[entity],
		}
	}
	return mappings
}

// Separator возвращает разделитель CSV
func (c *DWHConfig) Separator() rune {
	for _, r := range c.CSVSeparator {
		return r
	}
	return ';'
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
