package extractors

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

// ErrNoDateInPath возвращается, если в пути файла нет даты вида DDMMYYYY
var ErrNoDateInPath = errors.New("в пути файла нет даты")

var pathDate = regexp.MustCompile(`(\d{2})(\d{2})(\d{4})`)

// DateFromPath извлекает бизнес-дату DDMMYYYY из пути файла.
// Сначала ищется в имени файла, затем во всём пути.
func DateFromPath(path string) (time.Time, error) {
	m := pathDate.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		m = pathDate.FindStringSubmatch(path)
	}
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoDateInPath, path)
	}
	date, err := time.Parse("02012006", m[1]+m[2]+m[3])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrNoDateInPath, path, err)
	}
	return date, nil
}

// SourceFile найденный файл выгрузки
type SourceFile struct {
	Entity string
	Path   string
	Date   time.Time
}

// DailyBatches пакеты всех сущностей за одну бизнес-дату
type DailyBatches struct {
	Date    time.Time
	Batches map[string]*models.Batch
}

// Entities возвращает сущности дня в алфавитном порядке
func (d DailyBatches) Entities() []string {
	names := make([]string, 0, len(d.Batches))
	for name := range d.Batches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FileExtractor читает файлы выгрузок (CSV и XLSX) из каталога данных
type FileExtractor struct {
	dir      string
	patterns map[string]*regexp.Regexp
	csvSep   rune
	logger   *utils.ETLLogger
}

// NewFileExtractor создает новый экземпляр FileExtractor.
// patterns: сущность -> регулярное выражение для имени файла.
func NewFileExtractor(dir string, patterns map[string]string, csvSep rune, logger *utils.ETLLogger) (*FileExtractor, error) {
	compiled := make(map[string]*regexp.Regexp, len(patterns))
	for entity, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("шаблон файлов %s: %w", entity, err)
		}
		compiled[entity] = re
	}
	if csvSep == 0 {
		csvSep = ';'
	}
	return &FileExtractor{dir: dir, patterns: compiled, csvSep: csvSep, logger: logger}, nil
}

// matches проверяет совпадение шаблона с началом имени файла
func matches(re *regexp.Regexp, name string) bool {
	loc := re.FindStringIndex(name)
	return loc != nil && loc[0] == 0
}

// Find рекурсивно ищет файлы, подходящие под шаблоны сущностей
func (e *FileExtractor) Find() ([]SourceFile, error) {
	entities := make([]string, 0, len(e.patterns))
	for entity := range e.patterns {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	var files []SourceFile
	err := filepath.WalkDir(e.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		for _, entity := range entities {
			if !matches(e.patterns[entity], entry.Name()) {
				continue
			}
			date, err := DateFromPath(path)
			if err != nil {
				return err
			}
			files = append(files, SourceFile{Entity: entity, Path: path, Date: date})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска файлов в %s: %w", e.dir, err)
	}
	return files, nil
}

// Extract читает все найденные файлы и группирует пакеты по бизнес-дате
// в порядке возрастания. Файлы одной сущности за один день объединяются.
func (e *FileExtractor) Extract() ([]DailyBatches, error) {
	startTime := time.Now()
	files, err := e.Find()
	if err != nil {
		return nil, err
	}

	byDate := make(map[time.Time]map[string]*models.Batch)
	rows := 0
	for _, f := range files {
		batch, err := e.ReadFile(f.Entity, f.Path)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			e.logger.Warn("Неподдерживаемый формат файла %s, пропускаем", f.Path)
			continue
		}
		batch.BusinessDate = f.Date
		rows += batch.Len()

		day, ok := byDate[f.Date]
		if !ok {
			day = make(map[string]*models.Batch)
			byDate[f.Date] = day
		}
		if existing, ok := day[f.Entity]; ok {
			existing.Append(batch)
		} else {
			day[f.Entity] = batch
		}
	}

	result := make([]DailyBatches, 0, len(byDate))
	for date, batches := range byDate {
		result = append(result, DailyBatches{Date: date, Batches: batches})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })

	e.logger.Info("Прочитано файлов: %d, строк: %d, дней: %d (%v)", len(files), rows, len(result), time.Since(startTime))
	return result, nil
}

// ReadFile читает один файл в пакет с колонкой source_path.
// Для неподдерживаемого расширения возвращает nil без ошибки.
func (e *FileExtractor) ReadFile(entity, path string) (*models.Batch, error) {
	var header []string
	var records [][]string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		header, records, err = readXLSX(path)
	case ".csv", ".txt":
		header, records, err = readCSV(path, e.csvSep)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", path, err)
	}

	batch := models.NewBatch(entity, header)
	for _, record := range records {
		row := make([]interface{}, len(header))
		for i := range header {
			if i < len(record) && record[i] != "" {
				row[i] = record[i]
			}
		}
		batch.AddRow(row...)
	}
	batch.AddColumn(models.SourcePathColumn, func([]interface{}) interface{} { return path })
	batch.SourceFiles = []string{path}
	return batch, nil
}

func readCSV(path string, sep rune) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	return trimHeader(header), records, nil
}

func readXLSX(path string) ([]string, [][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	return trimHeader(rows[0]), rows[1:], nil
}

func trimHeader(header []string) []string {
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return cols
}
