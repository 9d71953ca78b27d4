package modules

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/JonMunkholm/importer/internal/core"
)

const (
	minPasswordLength = 8
	maxPasswordBytes  = 72 // bcrypt input limit
)

var (
	hasUpper = regexp.MustCompile(`[A-Z]`)
	hasLower = regexp.MustCompile(`[a-z]`)
	hasDigit = regexp.MustCompile(`[0-9]`)
)

// usersColumns are copied into the users table. Role assignment happens in
// the post-insert hook, along with departments.
var usersColumns = []string{"email", "username", "password", "first_name", "last_name", "status"}

func registerUsers(db DB) {
	core.Register(usersModule(db))
}

func usersModule(db DB) core.ModuleConfig {
	return core.ModuleConfig{
		Name:          "users",
		DisplayName:   "Users",
		AllowWarnings: true,
		BatchSize:     200,
		Fields: []core.FieldRule{
			{
				Name:           "email",
				Label:          "Email Address",
				Required:       true,
				Type:           core.FieldEmail,
				MaxLength:      255,
				Transformer:    lowerTrim,
				Validators:     []core.FieldValidator{core.UniqueValidator(db, "users", "email")},
				DefaultExample: "john.doe@example.com",
			},
			{
				Name:           "display_name",
				Label:          "Display Name",
				Required:       true,
				Type:           core.FieldString,
				MaxLength:      255,
				DefaultExample: "John Doe",
			},
			{
				Name:           "password",
				Label:          "Password",
				Required:       true,
				Type:           core.FieldString,
				Validators:     []core.FieldValidator{passwordLength},
				DefaultExample: "SecurePass123!",
			},
			{
				Name:           "role_names",
				Label:          "Role Names",
				Type:           core.FieldString,
				Validators:     []core.FieldValidator{referenceValidator(db, "roles", "name", "INVALID_ROLE", "Role")},
				DefaultExample: "pharmacist,inventory_manager",
			},
			{
				Name:           "department_codes",
				Label:          "Department Codes",
				Type:           core.FieldString,
				Transformer:    upperTrim,
				Validators:     []core.FieldValidator{referenceValidator(db, "inventory.departments", "dept_code", "INVALID_DEPARTMENT", "Department code")},
				DefaultExample: "PHARM,ICU",
			},
			{
				Name:           "primary_department_code",
				Label:          "Primary Department Code",
				Type:           core.FieldString,
				Transformer:    upperTrim,
				Validators:     []core.FieldValidator{referenceValidator(db, "inventory.departments", "dept_code", "INVALID_DEPARTMENT", "Department code")},
				DefaultExample: "PHARM",
			},
			{
				Name:           "is_active",
				Label:          "Is Active",
				Type:           core.FieldBoolean,
				DefaultExample: "true",
			},
		},
		RowValidator:     userRowChecks,
		CustomValidation: duplicatesInFile("email", "Email Address"),
		RowTransformer:   userRecord,
		Store:            core.NewPgRecordStore(db, "users", usersColumns...),
		PostInsertHook:   assignMemberships(db),
	}
}

func lowerTrim(v any, _ core.Row) any {
	if s, ok := v.(string); ok {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return v
}

// passwordLength bounds the password between minPasswordLength characters
// and the bcrypt input limit, which is counted in bytes.
func passwordLength(_ context.Context, v any, _ core.Row, _ int) (*core.ValidationError, error) {
	pw := str(v)
	switch {
	case utf8.RuneCountInString(pw) < minPasswordLength:
		return &core.ValidationError{
			Message:  fmt.Sprintf("Password must be at least %d characters long", minPasswordLength),
			Code:     "WEAK_PASSWORD",
			Severity: core.SeverityError,
		}, nil
	case len(pw) > maxPasswordBytes:
		return &core.ValidationError{
			Message:  fmt.Sprintf("Password must be at most %d bytes long", maxPasswordBytes),
			Code:     core.CodeMaxLengthExceeded,
			Severity: core.SeverityError,
		}, nil
	}
	return nil, nil
}

func userRowChecks(_ context.Context, row core.Row, _ int) []core.ValidationError {
	var out []core.ValidationError
	if e := primaryDepartment(row); e != nil {
		out = append(out, *e)
	}
	if e := passwordComplexity(row); e != nil {
		out = append(out, *e)
	}
	return out
}

// primaryDepartment requires the primary department to be one of the listed
// departments, when both are given.
func primaryDepartment(row core.Row) *core.ValidationError {
	primary := strings.ToUpper(str(row["primary_department_code"]))
	codes := departmentCodes(row)
	if primary == "" || len(codes) == 0 || slices.Contains(codes, primary) {
		return nil
	}
	return &core.ValidationError{
		Field:    "primary_department_code",
		Message:  fmt.Sprintf("Primary department '%s' must be included in department_codes list", primary),
		Code:     "INVALID_PRIMARY_DEPARTMENT",
		Severity: core.SeverityError,
		Value:    primary,
	}
}

func departmentCodes(row core.Row) []string {
	codes := splitList(row["department_codes"])
	for i, c := range codes {
		codes[i] = strings.ToUpper(c)
	}
	return codes
}

// passwordComplexity warns about passwords without mixed case and digits.
func passwordComplexity(row core.Row) *core.ValidationError {
	pw := str(row["password"])
	if pw == "" || (hasUpper.MatchString(pw) && hasLower.MatchString(pw) && hasDigit.MatchString(pw)) {
		return nil
	}
	return &core.ValidationError{
		Field:    "password",
		Message:  "Password should contain uppercase, lowercase, and numbers",
		Code:     "WEAK_PASSWORD_COMPLEXITY",
		Severity: core.SeverityWarning,
	}
}

// userRecord hashes the password and splits the display name.
func userRecord(row core.Row) (core.Record, error) {
	email := strings.ToLower(str(row["email"]))

	hash, err := bcrypt.GenerateFromPassword([]byte(str(row["password"])), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	first, last, _ := strings.Cut(str(row["display_name"]), " ")

	status := "active"
	if active, ok := core.ToBool(row["is_active"]); ok && !active {
		status = "inactive"
	}

	username, _, _ := strings.Cut(email, "@")

	departments := departmentCodes(row)
	primary := strings.ToUpper(str(row["primary_department_code"]))
	if primary == "" && len(departments) > 0 {
		primary = departments[0]
	}

	return core.Record{
		"email":      email,
		"username":   username,
		"password":   string(hash),
		"first_name": first,
		"last_name":  strings.TrimSpace(last),
		"status":     status,
		"roles":      splitList(row["role_names"]),

		"departments":        departments,
		"primary_department": primary,
	}, nil
}

const assignRolesSQL = `INSERT INTO user_roles (user_id, role_id, assigned_at, is_active)
SELECT u.id, r.id, now(), true
FROM users u JOIN roles r ON r.name = ANY($2)
WHERE u.email = $1
ON CONFLICT DO NOTHING`

const assignDepartmentsSQL = `INSERT INTO user_departments (user_id, department_id, hospital_id, is_primary,
	can_create_requests, can_edit_requests, can_submit_requests, can_approve_requests, can_view_reports, assigned_at)
SELECT u.id, d.id, d.hospital_id, d.dept_code = $3, true, true, true, false, true, now()
FROM users u JOIN inventory.departments d ON d.dept_code = ANY($2)
WHERE u.email = $1
ON CONFLICT DO NOTHING`

// assignMemberships links inserted users to their roles and departments in
// one round trip.
func assignMemberships(db DB) core.HookFunc {
	return func(ctx context.Context, records []core.Record) error {
		batch := &pgx.Batch{}
		for _, rec := range records {
			if roles, _ := rec["roles"].([]string); len(roles) > 0 {
				batch.Queue(assignRolesSQL, rec["email"], roles)
			}
			if depts, _ := rec["departments"].([]string); len(depts) > 0 {
				batch.Queue(assignDepartmentsSQL, rec["email"], depts, rec["primary_department"])
			}
		}
		if batch.Len() == 0 {
			return nil
		}

		results := db.SendBatch(ctx, batch)
		defer results.Close()

		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("assign memberships: %w", err)
			}
		}
		return nil
	}
}
