package modules

import (
	"strings"

	"github.com/JonMunkholm/importer/internal/core"
)

var departmentTypes = []string{"clinical", "administrative", "support"}

func registerDepartments(db DB) {
	core.Register(departmentsModule(db))
}

func departmentsModule(db DB) core.ModuleConfig {
	return core.ModuleConfig{
		Name:        "departments",
		DisplayName: "Departments",
		Fields: []core.FieldRule{
			{
				Name:           "dept_code",
				Label:          "Department Code",
				Required:       true,
				Type:           core.FieldString,
				MaxLength:      20,
				Transformer:    upperTrim,
				Validators:     []core.FieldValidator{core.UniqueValidator(db, "inventory.departments", "dept_code")},
				DefaultExample: "PHARM",
			},
			{Name: "dept_name", Label: "Department Name", Required: true, Type: core.FieldString, MaxLength: 255},
			{Name: "dept_type", Label: "Type", Required: true, Type: core.FieldString, EnumValues: departmentTypes},
			{Name: "budget", Label: "Annual Budget", Type: core.FieldNumber, MinValue: core.Float(0)},
			{Name: "is_active", Label: "Is Active", Type: core.FieldBoolean},
		},
		CustomValidation: duplicatesInFile("dept_code", "Department Code"),
		RowTransformer:   departmentRecord,
		Store: core.NewPgRecordStore(db, "inventory.departments",
			"dept_code", "dept_name", "dept_type", "budget", "is_active"),
	}
}

func upperTrim(v any, _ core.Row) any {
	if s, ok := v.(string); ok {
		return strings.ToUpper(strings.TrimSpace(s))
	}
	return v
}

func departmentRecord(row core.Row) (core.Record, error) {
	rec := core.Record{
		"dept_code": strings.ToUpper(str(row["dept_code"])),
		"dept_name": str(row["dept_name"]),
		"dept_type": str(row["dept_type"]),
		"budget":    nil,
		"is_active": true,
	}
	if n, ok := core.ToNumber(row["budget"]); ok {
		rec["budget"] = n
	}
	if b, ok := core.ToBool(row["is_active"]); ok {
		rec["is_active"] = b
	}
	return rec, nil
}
