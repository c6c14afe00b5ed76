package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-cx-pricefeed/internal/storage"
)

const testListing = `[
  {"MaterialTicker":"RAT","ExchangeCode":"AI1","MaterialName":"basicRations","Ask":42.456,"Bid":null}
]`

type testEnv struct {
	dir         string
	configPath  string
	datasetPath string
	csvPath     string
	journalPath string
}

func createMockServer(responses map[string]func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, exists := responses[r.URL.Path]; exists {
			handler(w, r)
		} else {
			http.NotFound(w, r)
		}
	}))
}

func writeBody(body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func dayCandleJSON(at time.Time) string {
	return fmt.Sprintf(`[{"Interval":"DAY_ONE","DateEpochMs":%d,"Open":10,"Close":12,"High":13,"Low":9,"Volume":1100,"Traded":100}]`,
		at.UnixMilli())
}

// newTestEnv writes a YAML config pointing at baseURL and files in a temp directory.
func newTestEnv(t *testing.T, baseURL string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:         dir,
		configPath:  filepath.Join(dir, "pricefeed.yaml"),
		datasetPath: filepath.Join(dir, "all.json"),
		csvPath:     filepath.Join(dir, "all.csv"),
		journalPath: filepath.Join(dir, "runs.db"),
	}

	cfg := fmt.Sprintf(`exchange:
  base_url: %s
  request_timeout: 5s
  history_timeout: 2s
  listing_retries: 1
dataset:
  path: %s
  csv_path: %s
refresh:
  stale_after: 24h
  throttle_interval: 1ms
  prune_delisted: true
  primary_interval: DAY_ONE
  anomaly_factor: 10
journal:
  path: %s
logging:
  level: error
  format: text
  output: stderr
`, baseURL, env.datasetPath, env.csvPath, env.journalPath)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o644))
	return env
}

func (e *testEnv) writeDataset(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(e.datasetPath, []byte(content), 0o644))
}

func (e *testEnv) readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestParseGlobalFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		command string
		config  string
		rest    []string
		wantErr bool
	}{
		{name: "defaults to refresh", args: nil, command: "refresh"},
		{name: "config before command", args: []string{"--config", "a.yaml", "export"}, command: "export", config: "a.yaml"},
		{name: "short config flag", args: []string{"-c", "a.yaml"}, command: "refresh", config: "a.yaml"},
		{name: "config after command", args: []string{"runs", "--config=b.json", "--limit", "3"}, command: "runs", config: "b.json", rest: []string{"--limit", "3"}},
		{name: "top-level help flag", args: []string{"--help"}, command: "--help"},
		{name: "missing config value", args: []string{"--config"}, wantErr: true},
		{name: "unknown flag before command", args: []string{"--bogus"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, err := parseGlobalFlags(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.command, flags.command)
			assert.Equal(t, tt.config, flags.configPath)
			assert.Equal(t, tt.rest, flags.args)
		})
	}
}

func TestRun_InfoCommands(t *testing.T) {
	t.Run("version", func(t *testing.T) {
		code, stdout, _ := runCLI("version")
		assert.Equal(t, 0, code)
		assert.Equal(t, "pricefeed version 1.0.0\n", stdout)
	})

	t.Run("help", func(t *testing.T) {
		code, stdout, _ := runCLI("help")
		assert.Equal(t, 0, code)
		assert.Contains(t, stdout, "USAGE:")
		assert.Contains(t, stdout, "EXIT CODES:")
	})

	t.Run("help for a command", func(t *testing.T) {
		code, stdout, _ := runCLI("help", "runs")
		assert.Equal(t, 0, code)
		assert.Contains(t, stdout, "--limit")
	})

	t.Run("help for an unknown command", func(t *testing.T) {
		code, _, stderr := runCLI("help", "nope")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "Unknown command 'nope'")
	})

	t.Run("unknown command", func(t *testing.T) {
		code, _, stderr := runCLI("frobnicate")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "Unknown command 'frobnicate'")
	})

	t.Run("bad global flag", func(t *testing.T) {
		code, _, stderr := runCLI("--bogus")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "unknown flag: --bogus")
	})
}

func TestRun_Refresh(t *testing.T) {
	var historyCalls atomic.Int32
	server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
		"/exchange/all": writeBody(testListing),
		"/exchange/cxpc/RAT.AI1": func(w http.ResponseWriter, r *http.Request) {
			historyCalls.Add(1)
			writeBody(dayCandleJSON(time.Now().Add(-36*time.Hour)))(w, r)
		},
	})
	defer server.Close()

	env := newTestEnv(t, server.URL)
	env.writeDataset(t, "[]")

	code, stdout, stderr := runCLI("--config", env.configPath, "refresh")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Status: completed")
	assert.Contains(t, stdout, "Refreshed: 1")
	assert.Equal(t, int32(1), historyCalls.Load())

	dataset := env.readFile(t, env.datasetPath)
	assert.Contains(t, dataset, `"FullTicker": "RAT.AI1"`)
	assert.Contains(t, dataset, `"OpenYesterday": 10`)
	assert.Contains(t, dataset, `"Bid": null`)

	csv := env.readFile(t, env.csvPath)
	lines := strings.Split(csv, "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "MaterialTicker,ExchangeCode,"))
	assert.NotContains(t, lines[0], "Timestamp")
	assert.Contains(t, lines[1], "42.46")

	t.Run("second run finds the record fresh", func(t *testing.T) {
		code, stdout, stderr := runCLI("--config", env.configPath)
		require.Equal(t, 0, code, stderr)
		assert.Contains(t, stdout, "Refreshed: 0")
		assert.Contains(t, stdout, "Fresh: 1")
		assert.Equal(t, int32(1), historyCalls.Load())
	})

	t.Run("runs lists the journal", func(t *testing.T) {
		code, stdout, stderr := runCLI("--config", env.configPath, "runs", "--limit", "1")
		require.Equal(t, 0, code, stderr)
		lines := strings.Split(strings.TrimSpace(stdout), "\n")
		require.Len(t, lines, 1)
		assert.Contains(t, lines[0], "Fresh: 1")
	})

	t.Run("runs rejects a bad limit", func(t *testing.T) {
		code, _, stderr := runCLI("--config", env.configPath, "runs", "--limit", "zero")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "invalid limit value")
	})
}

func TestRun_RefreshRateLimited(t *testing.T) {
	release := make(chan struct{})
	server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
		"/exchange/all": writeBody(testListing),
		"/exchange/cxpc/RAT.AI1": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		},
	})
	defer server.Close()
	defer close(release)

	env := newTestEnv(t, server.URL)
	cfg := env.readFile(t, env.configPath)
	cfg = strings.Replace(cfg, "history_timeout: 2s", "history_timeout: 50ms", 1)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o644))
	env.writeDataset(t, "[]")

	code, stdout, stderr := runCLI("--config", env.configPath, "refresh")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Status: degraded")
	assert.Contains(t, stdout, "Rate limited at RAT.AI1")

	dataset := env.readFile(t, env.datasetPath)
	assert.Contains(t, dataset, `"FullTicker": "RAT.AI1"`)
	assert.Contains(t, dataset, `"Timestamp": null`)
}

func TestRun_RefreshFailures(t *testing.T) {
	t.Run("missing dataset is a data error", func(t *testing.T) {
		server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			"/exchange/all": writeBody(testListing),
		})
		defer server.Close()

		env := newTestEnv(t, server.URL)
		code, _, stderr := runCLI("--config", env.configPath, "refresh")
		assert.Equal(t, 4, code)
		assert.Contains(t, stderr, "initialize it with an empty JSON array")
		assert.NoFileExists(t, env.csvPath)
	})

	t.Run("malformed history leaves the dataset unchanged", func(t *testing.T) {
		server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			"/exchange/all":          writeBody(testListing),
			"/exchange/cxpc/RAT.AI1": writeBody(`{"not":"an array"`),
		})
		defer server.Close()

		env := newTestEnv(t, server.URL)
		env.writeDataset(t, "[]")

		code, _, stderr := runCLI("--config", env.configPath, "refresh")
		assert.Equal(t, 4, code)
		assert.Equal(t, "[]", env.readFile(t, env.datasetPath))
		assert.NoFileExists(t, env.csvPath)
		assert.Contains(t, stderr, "the dataset was left unchanged")
		assert.Contains(t, stderr, "severity=critical")
		assert.Contains(t, stderr, "fatal=true")
	})

	t.Run("server error is a connection error", func(t *testing.T) {
		server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			"/exchange/all": func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
		})
		defer server.Close()

		env := newTestEnv(t, server.URL)
		env.writeDataset(t, "[]")

		code, _, _ := runCLI("--config", env.configPath, "refresh")
		assert.Equal(t, 3, code)
	})

	t.Run("invalid config", func(t *testing.T) {
		env := newTestEnv(t, "ftp://example.com")
		code, _, stderr := runCLI("--config", env.configPath, "refresh")
		assert.Equal(t, 2, code)
		assert.Contains(t, stderr, "exchange.base_url must be an http or https URL")
	})

	t.Run("unexpected argument", func(t *testing.T) {
		env := newTestEnv(t, "http://127.0.0.1:1")
		code, _, stderr := runCLI("--config", env.configPath, "refresh", "extra")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "unknown argument: extra")
	})
}

func TestRun_Export(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:1")
	env.writeDataset(t, `[
  {"MaterialTicker":"RAT","ExchangeCode":"AI1","Ask":42.456,"Bid":null,"FullTicker":"RAT.AI1","Timestamp":null}
]`)

	code, stdout, stderr := runCLI("--config", env.configPath, "export")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Exported 1 records")

	records, err := storage.NewFileStore(env.datasetPath, nil).Load(context.Background())
	require.NoError(t, err)
	want, err := storage.RenderCSV(records)
	require.NoError(t, err)
	assert.Equal(t, want, env.readFile(t, env.csvPath))

	t.Run("disabled export is a config error", func(t *testing.T) {
		cfg := env.readFile(t, env.configPath)
		cfg = strings.Replace(cfg, "csv_path: "+env.csvPath, `csv_path: ""`, 1)
		require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o644))

		code, _, stderr := runCLI("--config", env.configPath, "export")
		assert.Equal(t, 2, code)
		assert.Contains(t, stderr, "dataset.csv_path is not configured")
	})
}
