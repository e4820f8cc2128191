package schema

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/LilVoxy/coursework_dwh/ETL/catalog"
	"github.com/LilVoxy/coursework_dwh/ETL/dialect"
)

//go:embed ddl/*.sql.tmpl
var ddlFiles embed.FS

type templateData struct {
	Dim  map[string]string
	Fact map[string]string
	Stg  map[string]string
	Rep  map[string]string
	Meta map[string]string
}

// Render возвращает DDL-операторы хранилища для диалекта с именами таблиц из каталога
func Render(d dialect.Dialect, c *catalog.Catalog) ([]string, error) {
	name := fmt.Sprintf("ddl/%s.sql.tmpl", d.Name())
	tmpl, err := template.ParseFS(ddlFiles, name)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения шаблона схемы %s: %w", name, err)
	}

	data := templateData{
		Dim:  c.Dim.Tables(),
		Fact: c.Fact.Tables(),
		Stg:  c.Stg.Tables(),
		Rep:  c.Rep.Tables(),
		Meta: c.Meta.Tables(),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("ошибка формирования схемы: %w", err)
	}

	var statements []string
	for _, stmt := range strings.Split(buf.String(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements, nil
}

// Apply создает недостающие таблицы хранилища
func Apply(ctx context.Context, db *sql.DB, d dialect.Dialect, c *catalog.Catalog) error {
	statements, err := Render(d, c)
	if err != nil {
		return err
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ошибка при создании схемы: %w\n%s", err, stmt)
		}
	}
	return nil
}
