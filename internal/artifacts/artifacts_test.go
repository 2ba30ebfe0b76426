package artifacts

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"testing"

	"github.com/bardlex/cryptodecoy/pkg/errors"
)

var testParams = Params{
	Wallet:  "0x0000000000000000000000000000000000000000",
	Worker:  "worker-test",
	Algo:    "ethash",
	Threads: 3,
	UseGPU:  true,
}

var profilePattern = regexp.MustCompile(`^\d{9}[0-9a-f]{8}-Instance-Profile-Enforcement-[0-9a-f]{8}-9d6a-4e5d-b[0-9a-f]{12}\.html$`)

func TestScaffold(t *testing.T) {
	dir := t.TempDir()

	res, err := Scaffold(dir, testParams, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Scaffold() error = %v", err)
	}
	if len(res.Written) != 3 || len(res.Skipped) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	for _, sub := range Subdirs {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Errorf("missing directory %s", sub)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "configs", "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("config.json is not JSON: %v", err)
	}
	pool := cfg["pools"].([]any)[0].(map[string]any)
	if pool["worker"] != "worker-test" || pool["algorithm"] != "ethash" {
		t.Errorf("unexpected pool %v", pool)
	}
	if cfg["cpu"].(map[string]any)["threads"] != float64(3) {
		t.Errorf("unexpected cpu section %v", cfg["cpu"])
	}
	if cfg["cuda"].(map[string]any)["enabled"] != true {
		t.Error("cuda should be enabled when UseGPU is set")
	}

	info, err := os.Stat(filepath.Join(dir, "bins", "xmrig"))
	if err != nil {
		t.Fatal(err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 != 0 {
		t.Errorf("placeholder binary must not be executable, mode %v", info.Mode())
	}

	entries, err := os.ReadDir(filepath.Join(dir, "configs"))
	if err != nil {
		t.Fatal(err)
	}
	var pages int
	for _, e := range entries {
		if profilePattern.MatchString(e.Name()) {
			pages++
		}
	}
	if pages != 1 {
		t.Errorf("expected one profile page, got %d in %v", pages, entries)
	}
}

func TestScaffold_DoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "bins"), 0o755); err != nil {
		t.Fatal(err)
	}
	existing := filepath.Join(dir, "bins", "xmrig")
	if err := os.WriteFile(existing, []byte("keep me"), 0o600); err != nil {
		t.Fatal(err)
	}

	res, err := Scaffold(dir, testParams, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("Scaffold() error = %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != existing {
		t.Errorf("expected xmrig to be skipped, got %+v", res)
	}

	data, _ := os.ReadFile(existing)
	if string(data) != "keep me" {
		t.Errorf("existing file was overwritten: %q", data)
	}
}

func TestScaffold_Unwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "root")
	if err := os.WriteFile(blocker, []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := Scaffold(blocker, testParams, rand.New(rand.NewSource(3)))
	if err == nil {
		t.Fatal("expected an error when the root is a file")
	}
	if !errors.IsType(err, errors.ErrorTypeArtifact) {
		t.Errorf("expected artifact error, got %v", err)
	}
	if len(res.Written) != 0 {
		t.Errorf("nothing should be written, got %v", res.Written)
	}
}
