package bag

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mquintal/kitchenctl/internal/catalog"
	"github.com/mquintal/kitchenctl/internal/testutil/testlog"
)

func writeCompilerKitchen(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"roles/app.json": `{
			"run_list": ["recipe[web]"],
			"default_attributes": {"tier": "app"},
			"override_attributes": {"owner": "ops"}
		}`,
		"cookbooks/web/metadata.json": `{
			"name": "web",
			"attributes": {"web/port": {"type": "string", "default": "80"}}
		}`,
		"nodes/web1.example.com.json": `{
			"run_list": ["role[app]"],
			"owner": "dev"
		}`,
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}

func TestCompileProducesRecord(t *testing.T) {
	testlog.Start(t)
	cat, err := catalog.Load(writeCompilerKitchen(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	compiled, err := Compile(cat)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(compiled) != 1 {
		t.Fatalf("expected 1 record, got %d", len(compiled))
	}
	node := compiled[0]
	if node.ID != "web1_example_com" {
		t.Fatalf("id: %s", node.ID)
	}
	if node.Record["fqdn"] != "web1.example.com" {
		t.Fatalf("fqdn: %v", node.Record["fqdn"])
	}
	if node.Record["hostname"] != "web1" {
		t.Fatalf("hostname: %v", node.Record["hostname"])
	}
	if node.Record["domain"] != "example.com" {
		t.Fatalf("domain: %v", node.Record["domain"])
	}
	// role override beats node normal.
	if node.Record["owner"] != "ops" {
		t.Fatalf("owner: %v", node.Record["owner"])
	}

	path := filepath.Join(cat.Root(), "data_bags", "node", "web1_example_com.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("record not written: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("record is not valid JSON: %v", err)
	}
	web := decoded["web"].(map[string]any)
	if web["port"] != "80" {
		t.Fatalf("cookbook default missing from record: %v", decoded["web"])
	}
}

func TestCompileClearsOutputArea(t *testing.T) {
	cat, err := catalog.Load(writeCompilerKitchen(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	stale := filepath.Join(cat.Root(), "data_bags", "node", "gone_example_com.json")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write stale record: %v", err)
	}

	if _, err := Compile(cat); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale record survived compilation")
	}
}

func TestCompileByteIdenticalReruns(t *testing.T) {
	cat, err := catalog.Load(writeCompilerKitchen(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	path := filepath.Join(cat.Root(), "data_bags", "node", "web1_example_com.json")

	if _, err := Compile(cat); err != nil {
		t.Fatalf("first compile: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if _, err := Compile(cat); err != nil {
		t.Fatalf("second compile: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("re-run against unchanged catalog is not byte-identical")
	}
}

func TestCompileAbortsBatchOnMissingRecipe(t *testing.T) {
	root := writeCompilerKitchen(t)
	extra := filepath.Join(root, "nodes", "bad.example.com.json")
	if err := os.WriteFile(extra, []byte(`{"run_list": ["recipe[absent]"]}`), 0o644); err != nil {
		t.Fatalf("write node: %v", err)
	}
	cat, err := catalog.Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = Compile(cat)
	if !errors.Is(err, ErrUnknownRecipe) {
		t.Fatalf("expected ErrUnknownRecipe, got %v", err)
	}
	// Stop-the-line: no partial fleet, not even nodes that would compile.
	if _, statErr := os.Stat(filepath.Join(root, "data_bags", "node", "web1_example_com.json")); statErr == nil {
		t.Fatal("partial fleet was compiled")
	}
}

func TestCompiledNodeDummy(t *testing.T) {
	byFlag := &CompiledNode{Node: &catalog.Node{Name: "a.example.com", Dummy: true}}
	if !byFlag.Dummy() {
		t.Fatal("dummy flag not honored")
	}
	byTag := &CompiledNode{Node: &catalog.Node{Name: "b.example.com", Tags: []string{"staging", "dummy"}}}
	if !byTag.Dummy() {
		t.Fatal("dummy tag not honored")
	}
	real := &CompiledNode{Node: &catalog.Node{Name: "c.example.com", Tags: []string{"staging"}}}
	if real.Dummy() {
		t.Fatal("real node reported dummy")
	}
}
