// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package i18n provides the localized, human-readable strings Netkeeper
// hands to its callers (bot replies, API error reasons, CLI output). It uses
// the go-i18n library with YAML message files embedded into the binary.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

var (
	mu        sync.RWMutex
	bundle    *i18n.Bundle
	localizer *i18n.Localizer
	lang      = "en"
)

// Init loads every embedded locale and selects lang as the default language.
func Init(l string) {
	b := i18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + f.Name())
		if err != nil {
			continue
		}
		_, _ = b.ParseMessageFileBytes(data, f.Name())
	}

	mu.Lock()
	bundle = b
	localizer = i18n.NewLocalizer(b, l)
	lang = l
	mu.Unlock()
}

// GetLang returns the language selected by the last Init.
func GetLang() string {
	mu.RLock()
	defer mu.RUnlock()
	return lang
}

// AvailableLanguages lists the language tags with a message file.
func AvailableLanguages() []string {
	ensureInit()
	mu.RLock()
	defer mu.RUnlock()
	tags := bundle.LanguageTags()
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.String())
	}
	return out
}

// T translates messageID into the default language. When args are given the
// translation is used as a fmt format string. Unknown IDs are returned as-is.
func T(messageID string, args ...any) string {
	ensureInit()
	mu.RLock()
	loc := localizer
	mu.RUnlock()
	return localize(loc, messageID, args...)
}

// TFor translates messageID for the given Accept-Language style preferences,
// falling back to the default language.
func TFor(langs []string, messageID string, args ...any) string {
	ensureInit()
	mu.RLock()
	b, def := bundle, lang
	mu.RUnlock()
	loc := i18n.NewLocalizer(b, append(langs, def)...)
	return localize(loc, messageID, args...)
}

func localize(loc *i18n.Localizer, messageID string, args ...any) string {
	msg, err := loc.Localize(&i18n.LocalizeConfig{MessageID: messageID})
	if err != nil {
		msg = messageID
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

func ensureInit() {
	mu.RLock()
	ready := localizer != nil
	mu.RUnlock()
	if !ready {
		Init("en")
	}
}
