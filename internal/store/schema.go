package store

import (
	"sort"

	"github.com/JediahDizon/project-naa/internal/domain"
)

// Kind is the primitive type of a persisted field.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindDate
	// KindList is an ordered list of sub-records of another table, kept as
	// JSON text in the parent row.
	KindList
)

type Field struct {
	Name     string
	Kind     Kind
	Optional bool
	// Of names the sub-record table of a KindList field.
	Of string
}

type Table struct {
	Name       string
	PrimaryKey string
	Fields     []Field
}

// Field looks a field up by name.
func (t Table) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (t Table) columns() []string {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.Name
	}
	return cols
}

func key(name string) Field         { return Field{Name: name, Kind: KindString} }
func text(name string) Field        { return Field{Name: name, Kind: KindString, Optional: true} }
func required(name string) Field    { return Field{Name: name, Kind: KindString} }
func integer(name string) Field     { return Field{Name: name, Kind: KindInt, Optional: true} }
func boolean(name string) Field     { return Field{Name: name, Kind: KindBool, Optional: true} }
func date(name string) Field        { return Field{Name: name, Kind: KindDate} }
func list(name, of string) Field    { return Field{Name: name, Kind: KindList, Optional: true, Of: of} }
func requiredInt(name string) Field { return Field{Name: name, Kind: KindInt} }

func texts(names ...string) []Field {
	out := make([]Field, len(names))
	for i, n := range names {
		out[i] = text(n)
	}
	return out
}

func table(name, pk string, fields ...[]Field) Table {
	t := Table{Name: name, PrimaryKey: pk}
	for _, fs := range fields {
		t.Fields = append(t.Fields, fs...)
	}
	return t
}

// Schema is the fixed table set. It must match the DDL in
// internal/migrate/sql for migrate.SchemaVersion.
var Schema = map[string]Table{
	domain.TableProject: table(domain.TableProject, "id",
		[]Field{key("id")},
		texts("name", "assignedTo", "comment", "creationDate"),
		[]Field{list("files", domain.TableFile)},
		texts("tasks", "alerts", "attachments"),
	),
	domain.TableTask: table(domain.TableTask, "id",
		[]Field{key("id")},
		texts("name", "type", "key", "activityId", "activityType", "assetId", "assignedByUserId",
			"assignedUserId", "assignedTo", "bpmStatus", "status", "priority", "progress", "deadLine",
			"datum", "jurisdiction", "regulatoryAgency", "regulatoryId", "overview"),
		[]Field{boolean("canClose"), list("files", domain.TableFile)},
		texts("form", "taskDDS", "schema", "well", "customTypes", "namedConditions", "processCommonData",
			"uiDefinition", "extraDetailsJson", "photoTypes", "processTypes", "progressUpdateComments",
			"taskProjectAlerts", "tasksProjectsFiles"),
	),
	domain.TableFile: table(domain.TableFile, "id",
		[]Field{key("id")},
		texts("name", "contentType", "prop"),
		[]Field{integer("size")},
		texts("taskId", "projectId", "uri", "binaryFile"),
	),
	domain.TableFormFiles: table(domain.TableFormFiles, "id",
		[]Field{key("id")},
		texts("taskId", "uri", "name", "prop", "contentType"),
		[]Field{integer("size"), text("jsonDetails")},
	),
	domain.TableImage: table(domain.TableImage, "id",
		[]Field{key("id")},
		texts("taskId", "projectId", "uri", "fileName"),
		[]Field{integer("fileSize")},
		texts("fileType", "contentType"),
		[]Field{boolean("canChange")},
		texts("jsonDetails", "thumbnail"),
	),
	domain.TableFormDefinition: table(domain.TableFormDefinition, "key",
		[]Field{key("key"), text("name"), required("form")},
		texts("schema", "customTypes", "namedConditions", "processCommonData", "photoTypes"),
	),
	domain.TableFormValues: table(domain.TableFormValues, "id",
		[]Field{key("id"), required("key"), text("values"), list("files", domain.TableFile)},
		texts("attachments", "alerts", "progress", "well"),
	),
	domain.TableLog: table(domain.TableLog, "id",
		[]Field{key("id"), date("timestamp"), text("tableName"), requiredInt("status"), text("message"),
			required("data"), text("errors")},
	),
	domain.TableTranslation: table(domain.TableTranslation, "locale",
		[]Field{key("locale"), text("translation")},
	),
	domain.TableSync: table(domain.TableSync, "id",
		[]Field{key("id"), date("timestamp"), text("tableName"), text("model"), text("errors"),
			requiredInt("type")},
	),
}

// Tables returns the table names in a stable order.
func Tables() []string {
	names := make([]string, 0, len(Schema))
	for n := range Schema {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Table, error) {
	t, ok := Schema[name]
	if !ok {
		return Table{}, &domain.ValidationError{Field: "table", Reason: "unknown table " + name}
	}
	return t, nil
}
