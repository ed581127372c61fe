package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/tracktunes/idb"
)

func TestParseKey(t *testing.T) {
	if k, err := parseKey("42"); err != nil || k != idb.Key(42) {
		t.Errorf("parseKey(42) = %v, %v", k, err)
	}
	for _, s := range []string{"0", "-1", "x", ""} {
		if _, err := parseKey(s); err == nil {
			t.Errorf("parseKey(%q) succeeded", s)
		}
	}
}

func TestParseRecord(t *testing.T) {
	item, err := parseRecord(`{"name":"a","tags":["x"]}`)
	if err != nil {
		t.Fatalf("parseRecord: %v", err)
	}
	e := record{"name": "a", "tags": []any{"x"}}
	if !reflect.DeepEqual(item, e) {
		t.Errorf("parseRecord = %v, wanted %v", item, e)
	}

	for _, s := range []string{"null", "[1]", `"a"`, "{"} {
		if _, err := parseRecord(s); err == nil {
			t.Errorf("parseRecord(%q) succeeded", s)
		}
	}
}

const testDescriptor = `
name: cli
version: 1
collections:
  - name: nodes
    indexes:
      - name: name
        unique: true
`

type cli struct {
	t      *testing.T
	common []string
}

func newCLI(t *testing.T) *cli {
	dir := t.TempDir()
	desc := filepath.Join(dir, "cli.yaml")
	if err := os.WriteFile(desc, []byte(testDescriptor), 0o644); err != nil {
		t.Fatal(err)
	}
	return &cli{t: t, common: []string{"-f", desc, "--dir", filepath.Join(dir, "data"), "--timeout", "10s"}}
}

func (c *cli) exec(args ...string) (string, error) {
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetArgs(append(args, c.common...))
	err := RootCmd.Execute()
	return out.String(), err
}

func (c *cli) run(args ...string) string {
	c.t.Helper()
	out, err := c.exec(args...)
	if err != nil {
		c.t.Fatalf("idbctl %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (c *cli) get(coll, key string) map[string]any {
	c.t.Helper()
	var item map[string]any
	if err := json.Unmarshal([]byte(c.run("get", coll, key)), &item); err != nil {
		c.t.Fatalf("get %s %s: %v", coll, key, err)
	}
	return item
}

func TestCommands(t *testing.T) {
	c := newCLI(t)

	if out := c.run("init"); out != "cli is at version 1\n" {
		t.Errorf("init = %q", out)
	}
	if out := c.run("put", "nodes", `{"name":"root"}`); out != "1\n" {
		t.Errorf("put = %q, wanted key 1", out)
	}
	if out := c.run("put", "nodes", `{"name":"child","parent":1}`); out != "2\n" {
		t.Errorf("put = %q, wanted key 2", out)
	}
	if _, err := c.exec("put", "nodes", `{"name":"root"}`); !errors.Is(err, idb.ErrConstraint) {
		t.Errorf("put of a duplicate name = %v, wanted ErrConstraint", err)
	}

	if item := c.get("nodes", "2"); item["name"] != "child" || item["parent"] != 1.0 {
		t.Errorf("get nodes 2 = %v", item)
	}
	c.run("update", "nodes", "2", `{"name":"leaf"}`)
	if item := c.get("nodes", "2"); !reflect.DeepEqual(item, map[string]any{"name": "leaf"}) {
		t.Errorf("get after update = %v", item)
	}

	out := c.run("scan", "nodes", "--reverse", "--limit", "1")
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 1 || !strings.Contains(lines[0], `"key":2`) {
		t.Errorf("scan -r -n 1 = %q", out)
	}
	if out := c.run("stats"); !strings.Contains(out, "nodes") {
		t.Errorf("stats = %q", out)
	}

	c.run("delete", "nodes", "2")
	if _, err := c.exec("get", "nodes", "2"); err == nil {
		t.Errorf("get of a deleted record succeeded")
	}
	if out := c.run("put", "nodes", `{"name":"next"}`); out != "3\n" {
		t.Errorf("put after delete = %q, wanted key 3", out)
	}

	c.run("drop", "cli")
	if out := c.run("put", "nodes", `{"name":"root"}`); out != "1\n" {
		t.Errorf("put after drop = %q, wanted key 1", out)
	}
}
