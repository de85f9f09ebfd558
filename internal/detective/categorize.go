package detective

import (
	"strings"

	"github.com/neverdownhq/neverdown/internal/model"
)

// categoryRule maps kind or message substrings to a failure category.
// Rules are evaluated in order; the first hit wins.
type categoryRule struct {
	kinds    []string
	keywords []string
	category model.Category
}

// categoryRules is the fixed ruleset. Specific runtime kinds come first so
// broad keyword rules cannot shadow them.
var categoryRules = []categoryRule{
	{
		kinds:    []string{"NameError", "ReferenceError"},
		category: model.CategoryName,
	},
	{
		kinds:    []string{"TypeError", "AttributeError"},
		category: model.CategoryType,
	},
	{
		kinds:    []string{"ImportError", "ModuleNotFoundError"},
		keywords: []string{"cannot find module", "no module named"},
		category: model.CategoryImport,
	},
	{
		kinds:    []string{"SyntaxError", "IndentationError"},
		keywords: []string{"unexpected token", "unexpected eof"},
		category: model.CategorySyntax,
	},
	{
		kinds:    []string{"TimeoutError"},
		keywords: []string{"timeout", "timed out", "deadline exceeded"},
		category: model.CategoryTimeout,
	},
	{
		kinds:    []string{"PermissionError"},
		keywords: []string{"permission denied", "access denied", "eacces", "forbidden", "unauthorized"},
		category: model.CategoryPermission,
	},
	{
		kinds:    []string{"ConnectionError", "ConnectionRefusedError", "ConnectionResetError"},
		keywords: []string{"connection refused", "connection reset", "econnrefused", "econnreset", "network is unreachable", "socket hang up"},
		category: model.CategoryConnection,
	},
	{
		// Before the database rule: "environment variable DATABASE_URL is not
		// set" is a configuration problem, not a database one.
		keywords: []string{"environment variable", "env var", "not configured", "missing config", "configuration", "invalid config"},
		category: model.CategoryConfigMismatch,
	},
	{
		kinds:    []string{"OperationalError", "IntegrityError", "ProgrammingError", "DatabaseError"},
		keywords: []string{"database", "sql", "psycopg", "sqlalchemy", "deadlock", "relation ", "duplicate key", "constraint"},
		category: model.CategoryDatabase,
	},
	{
		keywords: []string{"version conflict", "incompatible version", "requires version", "dependency", "eresolve", "npm err", "pip install", "could not find a version"},
		category: model.CategoryDependencyVersion,
	},
	{
		kinds:    []string{"AssertionError", "KeyError", "IndexError", "ValueError", "ZeroDivisionError", "RangeError"},
		category: model.CategoryLogic,
	},
}

// Categorize assigns the failure category for a set of extracted errors.
// The first error that matches a rule decides.
func Categorize(errs []model.ExtractedError) model.Category {
	for _, e := range errs {
		if c := categorizeOne(e); c != model.CategoryUnknown {
			return c
		}
	}
	return model.CategoryUnknown
}

func categorizeOne(e model.ExtractedError) model.Category {
	lowerMsg := strings.ToLower(e.Message)
	for _, rule := range categoryRules {
		for _, kind := range rule.kinds {
			if e.Kind == kind {
				return rule.category
			}
		}
		for _, kw := range rule.keywords {
			if strings.Contains(lowerMsg, kw) {
				return rule.category
			}
		}
	}
	return model.CategoryUnknown
}

// definiteBugKinds are error kinds that almost always indicate a bug in the
// attributed file, used by the suspect ranking boost.
var definiteBugKinds = map[string]bool{
	"NameError":      true,
	"TypeError":      true,
	"SyntaxError":    true,
	"AttributeError": true,
	"ReferenceError": true,
}
