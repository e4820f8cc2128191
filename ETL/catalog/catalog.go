package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/LilVoxy/coursework_dwh/ETL/dialect"
)

// ErrUnknownEntity возвращается, если логическое имя отсутствует в слое
var ErrUnknownEntity = errors.New("неизвестная сущность")

// LayerName обозначает слой хранилища
type LayerName string

// Слои хранилища и слой источника (банковская OLTP-база)
const (
	LayerDim    LayerName = "DIM"
	LayerFact   LayerName = "FACT"
	LayerStg    LayerName = "STG"
	LayerRep    LayerName = "REP"
	LayerMeta   LayerName = "META"
	LayerSource LayerName = "SRC"
)

// Логические имена, на которые опираются правила и оркестратор
const (
	EntityAccounts     = "accounts"
	EntityCards        = "cards"
	EntityClients      = "clients"
	EntityTerminals    = "terminals"
	EntityBlacklist    = "blacklist"
	EntityTransactions = "transactions"
	EntityFraud        = "fraud"
	EntityMeta         = "meta"
	EntityRuns         = "runs"
)

// requiredEntries перечисляет записи, без которых движок не может работать
var requiredEntries = map[LayerName][]string{
	LayerDim:  {EntityAccounts, EntityCards, EntityClients, EntityTerminals},
	LayerFact: {EntityBlacklist, EntityTransactions},
	LayerStg:  {EntityTransactions},
	LayerRep:  {EntityFraud},
	LayerMeta: {EntityMeta},
}

// Layer сопоставляет логические имена физическим таблицам одного слоя
type Layer struct {
	name   LayerName
	tables map[string]string
}

// Name возвращает имя слоя
func (l Layer) Name() LayerName {
	return l.name
}

// Lookup возвращает физическое имя таблицы
func (l Layer) Lookup(entity string) (string, error) {
	table, ok := l.tables[entity]
	if !ok {
		return "", fmt.Errorf("%w: %s в слое %s", ErrUnknownEntity, entity, l.name)
	}
	return table, nil
}

// Has сообщает, есть ли логическое имя в слое
func (l Layer) Has(entity string) bool {
	_, ok := l.tables[entity]
	return ok
}

// Names возвращает отсортированный список логических имён слоя
func (l Layer) Names() []string {
	names := make([]string, 0, len(l.tables))
	for name := range l.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tables возвращает копию отображения логических имён в физические
func (l Layer) Tables() map[string]string {
	out := make(map[string]string, len(l.tables))
	for k, v := range l.tables {
		out[k] = v
	}
	return out
}

// Catalog содержит все слои хранилища
type Catalog struct {
	Dim    Layer
	Fact   Layer
	Stg    Layer
	Rep    Layer
	Meta   Layer
	Source Layer
}

// New строит каталог из конфигурации вида слой -> {логическое имя -> таблица}.
// Имена слоёв регистронезависимы.
func New(tables map[string]map[string]string) (*Catalog, error) {
	layers := make(map[LayerName]map[string]string)
	for layer, entries := range tables {
		name := LayerName(strings.ToUpper(layer))
		switch name {
		case LayerDim, LayerFact, LayerStg, LayerRep, LayerMeta, LayerSource:
		default:
			return nil, fmt.Errorf("неизвестный слой каталога %q", layer)
		}

		for entity, table := range entries {
			if err := dialect.ValidateIdentifier(table); err != nil {
				return nil, fmt.Errorf("таблица %s.%s: %w", name, entity, err)
			}
		}
		layers[name] = entries
	}

	for layer, entities := range requiredEntries {
		for _, entity := range entities {
			if _, ok := layers[layer][entity]; !ok {
				return nil, fmt.Errorf("%w: в каталоге нет обязательной записи %s.%s", ErrUnknownEntity, layer, entity)
			}
		}
	}

	return &Catalog{
		Dim:    newLayer(LayerDim, layers[LayerDim]),
		Fact:   newLayer(LayerFact, layers[LayerFact]),
		Stg:    newLayer(LayerStg, layers[LayerStg]),
		Rep:    newLayer(LayerRep, layers[LayerRep]),
		Meta:   newLayer(LayerMeta, layers[LayerMeta]),
		Source: newLayer(LayerSource, layers[LayerSource]),
	}, nil
}

func newLayer(name LayerName, entries map[string]string) Layer {
	tables := make(map[string]string, len(entries))
	for k, v := range entries {
		tables[k] = v
	}
	return Layer{name: name, tables: tables}
}

// Layer возвращает слой по имени
func (c *Catalog) Layer(name LayerName) (Layer, error) {
	switch name {
	case LayerDim:
		return c.Dim, nil
	case LayerFact:
		return c.Fact, nil
	case LayerStg:
		return c.Stg, nil
	case LayerRep:
		return c.Rep, nil
	case LayerMeta:
		return c.Meta, nil
	case LayerSource:
		return c.Source, nil
	}
	return Layer{}, fmt.Errorf("неизвестный слой каталога %q", name)
}
