// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-lint checks that every message id used in the source exists in the
// primary locale and that every other locale carries the same ids.
//
//	go run ./tools/i18n-lint
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	localesDir    = "internal/i18n/locales"
	primaryLocale = "en.yaml"
)

// dynamicPrefixes are ids built at runtime, e.g. "error." + kind name. Keys
// under them count as used.
var dynamicPrefixes = []string{"error."}

var callRe = regexp.MustCompile(`i18n\.T(?:For)?\((?:[^,"]+,\s*)?"([a-z_]+(?:\.[a-z_]+)+)"`)

func main() {
	used, err := findUsedKeys(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan sources: %v\n", err)
		os.Exit(1)
	}
	locales, err := loadLocales(localesDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load locales: %v\n", err)
		os.Exit(1)
	}
	problems := lint(used, locales)
	for _, p := range problems {
		fmt.Println(p)
	}
	if len(problems) > 0 {
		os.Exit(1)
	}
	fmt.Printf("%d ids used, %d locales consistent\n", len(used), len(locales))
}

// lint returns one line per problem, sorted.
func lint(used map[string]struct{}, locales map[string]map[string]struct{}) []string {
	var problems []string
	primary, ok := locales[primaryLocale]
	if !ok {
		return []string{"primary locale " + primaryLocale + " not found"}
	}
	for id := range used {
		if _, ok := primary[id]; !ok {
			problems = append(problems, fmt.Sprintf("missing in %s: %s", primaryLocale, id))
		}
	}
	for id := range primary {
		if _, ok := used[id]; !ok && !isDynamic(id) {
			problems = append(problems, fmt.Sprintf("orphaned in %s: %s", primaryLocale, id))
		}
	}
	for name, keys := range locales {
		if name == primaryLocale {
			continue
		}
		for id := range primary {
			if _, ok := keys[id]; !ok {
				problems = append(problems, fmt.Sprintf("missing in %s: %s", name, id))
			}
		}
		for id := range keys {
			if _, ok := primary[id]; !ok {
				problems = append(problems, fmt.Sprintf("extra in %s: %s", name, id))
			}
		}
	}
	sort.Strings(problems)
	return problems
}

func isDynamic(id string) bool {
	for _, p := range dynamicPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// findUsedKeys scans non-test Go files outside tools/ and _-prefixed dirs.
func findUsedKeys(root string) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (d.Name() == "tools" || strings.HasPrefix(d.Name(), "_") || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, m := range callRe.FindAllStringSubmatch(string(content), -1) {
			keys[m[1]] = struct{}{}
		}
		return nil
	})
	return keys, err
}

func loadLocales(dir string) (map[string]map[string]struct{}, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]struct{}, len(files))
	for _, f := range files {
		keys, err := loadKeysFromLocale(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		out[filepath.Base(f)] = keys
	}
	return out, nil
}

func loadKeysFromLocale(path string) (map[string]struct{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	keys := make(map[string]struct{})
	flattenYAML("", m, keys)
	return keys, nil
}

// flattenYAML joins nested maps with dots, matching go-i18n's message ids.
func flattenYAML(prefix string, m map[string]interface{}, keys map[string]struct{}) {
	for k, v := range m {
		id := k
		if prefix != "" {
			id = prefix + "." + k
		}
		if sub, ok := v.(map[string]interface{}); ok {
			flattenYAML(id, sub, keys)
			continue
		}
		keys[id] = struct{}{}
	}
}
