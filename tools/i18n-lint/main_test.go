// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFlattenYAMLAndLoadKeys(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "en.yaml")
	if err := os.WriteFile(p, []byte("profile.created: \"x\"\nowner:\n  added: \"y\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := loadKeysFromLocale(p)
	if err != nil {
		t.Fatalf("loadKeysFromLocale: %v", err)
	}
	for _, want := range []string{"profile.created", "owner.added"} {
		if _, ok := got[want]; !ok {
			t.Errorf("missing %s in %v", want, got)
		}
	}
}

func TestFindUsedKeys(t *testing.T) {
	dir := t.TempDir()
	src := `package foo
func f() {
	_ = i18n.T("owner.added", 1)
	_ = i18n.TFor(langs, "profile.none")
	_ = i18n.T(dynamic)
}`
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "a.go"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "a_test.go"), []byte(`i18n.T("test.only")`), 0o644); err != nil {
		t.Fatal(err)
	}
	used, err := findUsedKeys(dir)
	if err != nil {
		t.Fatalf("findUsedKeys: %v", err)
	}
	if len(used) != 2 {
		t.Fatalf("expected 2 ids, got %v", used)
	}
	if _, ok := used["profile.none"]; !ok {
		t.Fatal("TFor id not found")
	}
}

func TestLint(t *testing.T) {
	used := map[string]struct{}{"owner.added": {}, "profile.gone": {}}
	locales := map[string]map[string]struct{}{
		"en.yaml": {"owner.added": {}, "owner.stale": {}, "error.internal": {}},
		"ru.yaml": {"owner.added": {}, "error.internal": {}, "ru.only": {}},
	}
	got := strings.Join(lint(used, locales), "\n")
	for _, want := range []string{
		"missing in en.yaml: profile.gone",
		"orphaned in en.yaml: owner.stale",
		"missing in ru.yaml: owner.stale",
		"extra in ru.yaml: ru.only",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing problem %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "orphaned in en.yaml: error.internal") {
		t.Error("dynamic id reported as orphaned")
	}
}

// The repository's own locales must pass.
func TestRepositoryLocales(t *testing.T) {
	root := filepath.Join("..", "..")
	used, err := findUsedKeys(root)
	if err != nil {
		t.Fatal(err)
	}
	locales, err := loadLocales(filepath.Join(root, localesDir))
	if err != nil {
		t.Fatal(err)
	}
	if problems := lint(used, locales); len(problems) > 0 {
		t.Fatalf("locale problems:\n%s", strings.Join(problems, "\n"))
	}
}
