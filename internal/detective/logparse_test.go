package detective

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pythonTraceback = `Starting server...
Traceback (most recent call last):
  File "/usr/lib/python3.11/runpy.py", line 196, in _run_module_as_main
    return _run_code(code, main_globals, None,
  File "/app/backend/index.js", line 15, in start
    server.listen(PORT)
NameError: name 'PORT' is not defined
`

const jsStack = `Error: Cannot read properties of undefined (reading 'id')
    at getUser (/app/src/users.js:42:17)
    at /app/node_modules/express/lib/router/index.js:284:15
    at handler (/app/src/routes.js:10:5)
`

func TestParsePythonTraceback(t *testing.T) {
	t.Parallel()

	errs := ParseLogs(context.Background(), pythonTraceback)
	require.Len(t, errs, 1)

	e := errs[0]
	assert.Equal(t, "NameError", e.Kind)
	assert.Equal(t, "name 'PORT' is not defined", e.Message)
	assert.Equal(t, "/app/backend/index.js", e.File, "library frame must lose to the user frame")
	assert.Equal(t, 15, e.Line)
	assert.Contains(t, e.Stack, "Traceback")
}

func TestParseJSStack(t *testing.T) {
	t.Parallel()

	errs := ParseLogs(context.Background(), jsStack)
	require.Len(t, errs, 1)

	e := errs[0]
	assert.Equal(t, "Error", e.Kind)
	assert.Contains(t, e.Message, "Cannot read properties")
	// Last non-library frame wins.
	assert.Equal(t, "/app/src/routes.js", e.File)
	assert.Equal(t, 10, e.Line)
}

func TestParseGenericFallback(t *testing.T) {
	t.Parallel()

	logs := strings.Join([]string{
		"2026-01-10 12:00:01 INFO starting worker",
		"2026-01-10 12:00:02 ERROR failed to process job in worker/jobs.py:88",
		"2026-01-10 12:00:03 INFO retrying",
	}, "\n")

	errs := ParseLogs(context.Background(), logs)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERROR", errs[0].Kind)
	assert.Equal(t, "worker/jobs.py", errs[0].File)
	assert.Equal(t, 88, errs[0].Line)
}

func TestParseJSONLines(t *testing.T) {
	t.Parallel()

	logs := strings.Join([]string{
		`{"level":"info","message":"listening on :8080"}`,
		`{"level":"error","message":"db write failed","file":"store/save.py","line":31}`,
		`{"level":"critical","message":"shutting down"}`,
	}, "\n")

	errs := ParseLogs(context.Background(), logs)
	require.Len(t, errs, 2)
	assert.Equal(t, "db write failed", errs[0].Message)
	assert.Equal(t, "store/save.py", errs[0].File)
	assert.Equal(t, 31, errs[0].Line)
	assert.Equal(t, "CRITICAL", errs[1].Kind)
}

func TestParseJSONLinesRejectsMostlyText(t *testing.T) {
	t.Parallel()

	logs := "plain line\nanother line\n" + `{"level":"error","message":"x"}` + "\n"
	errs := ParseLogs(context.Background(), logs)
	// Falls through to the text recognisers; the generic scan finds nothing
	// file-attributed here.
	for _, e := range errs {
		assert.NotEqual(t, "x", e.Message)
	}
}

func TestElectUserFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		frames []frame
		want   string
	}{
		{
			name: "skips library frames",
			frames: []frame{
				{File: "app/main.py", Line: 3},
				{File: "/venv/site-packages/flask/app.py", Line: 100},
			},
			want: "app/main.py",
		},
		{
			name: "all library falls back to innermost",
			frames: []frame{
				{File: "/usr/lib/python3/http.py", Line: 1},
				{File: "/venv/site-packages/requests/api.py", Line: 2},
			},
			want: "/venv/site-packages/requests/api.py",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, ok := electUserFrame(tt.frames)
			require.True(t, ok)
			assert.Equal(t, tt.want, f.File)
		})
	}
}

func TestExtractFunctions(t *testing.T) {
	t.Parallel()

	funcs := ExtractFunctions(pythonTraceback)
	require.Len(t, funcs, 1)
	assert.Equal(t, "start", funcs[0].Name)
	assert.Equal(t, "/app/backend/index.js", funcs[0].File)
	assert.InDelta(t, 0.8, funcs[0].Confidence, 1e-9)
}

func TestParseMultipleTracebacks(t *testing.T) {
	t.Parallel()

	logs := pythonTraceback + "\nrestarting\n" + strings.ReplaceAll(pythonTraceback, "PORT", "HOST")
	errs := ParseLogs(context.Background(), logs)
	assert.Len(t, errs, 2)
}
