package detective

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neverdownhq/neverdown/internal/model"
)

func TestCategorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		errs []model.ExtractedError
		want model.Category
	}{
		{
			name: "name error",
			errs: []model.ExtractedError{{Kind: "NameError", Message: "name 'PORT' is not defined"}},
			want: model.CategoryName,
		},
		{
			name: "reference error",
			errs: []model.ExtractedError{{Kind: "ReferenceError", Message: "x is not defined"}},
			want: model.CategoryName,
		},
		{
			name: "type error",
			errs: []model.ExtractedError{{Kind: "TypeError", Message: "unsupported operand"}},
			want: model.CategoryType,
		},
		{
			name: "import",
			errs: []model.ExtractedError{{Kind: "ModuleNotFoundError", Message: "No module named 'requests'"}},
			want: model.CategoryImport,
		},
		{
			name: "timeout keyword",
			errs: []model.ExtractedError{{Kind: "ERROR", Message: "request timed out after 30s"}},
			want: model.CategoryTimeout,
		},
		{
			name: "connection keyword",
			errs: []model.ExtractedError{{Kind: "ERROR", Message: "ECONNREFUSED 127.0.0.1:5432"}},
			want: model.CategoryConnection,
		},
		{
			name: "database",
			errs: []model.ExtractedError{{Kind: "OperationalError", Message: "could not connect to server"}},
			want: model.CategoryDatabase,
		},
		{
			name: "permission keyword",
			errs: []model.ExtractedError{{Kind: "ERROR", Message: "permission denied: /etc/app.conf"}},
			want: model.CategoryPermission,
		},
		{
			name: "dependency",
			errs: []model.ExtractedError{{Kind: "ERROR", Message: "npm ERR! ERESOLVE unable to resolve dependency tree"}},
			want: model.CategoryDependencyVersion,
		},
		{
			name: "config",
			errs: []model.ExtractedError{{Kind: "ERROR", Message: "environment variable DATABASE_URL is not set"}},
			want: model.CategoryConfigMismatch,
		},
		{
			name: "logic",
			errs: []model.ExtractedError{{Kind: "KeyError", Message: "'user_id'"}},
			want: model.CategoryLogic,
		},
		{
			name: "unknown",
			errs: []model.ExtractedError{{Kind: "ERROR", Message: "something odd happened"}},
			want: model.CategoryUnknown,
		},
		{
			name: "first matching error decides",
			errs: []model.ExtractedError{
				{Kind: "ERROR", Message: "something odd happened"},
				{Kind: "SyntaxError", Message: "invalid syntax"},
			},
			want: model.CategorySyntax,
		},
		{
			name: "empty",
			errs: nil,
			want: model.CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Categorize(tt.errs))
		})
	}
}
