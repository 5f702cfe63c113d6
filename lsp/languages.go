// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"gopkg.in/yaml.v3"
)

// LanguageConfig contains configuration for an LSP server.
type LanguageConfig struct {
	// Language is the language identifier (e.g., "go", "python").
	Language string `yaml:"language"`

	// Command is the executable name or path.
	Command string `yaml:"command"`

	// Args are command-line arguments to pass to the server.
	Args []string `yaml:"args"`

	// Extensions are file extensions this server handles (e.g., ".go").
	Extensions []string `yaml:"extensions"`

	// RootFiles are files that indicate a project root (e.g., "go.mod").
	RootFiles []string `yaml:"root_files"`

	// InitializationOptions are custom options passed during initialize.
	InitializationOptions any `yaml:"initialization_options"`

	// Settings are pushed via workspace/didChangeConfiguration after the
	// handshake when non-nil.
	Settings any `yaml:"settings"`
}

// IsInstalled reports whether the server command resolves on PATH.
// A missing binary is an expected condition, not an error.
func (c LanguageConfig) IsInstalled() bool {
	_, err := exec.LookPath(c.Command)
	return err == nil
}

// ConfigRegistry manages LSP configurations for different languages.
//
// Thread Safety: Safe for concurrent use.
type ConfigRegistry struct {
	mu         sync.RWMutex
	byLanguage map[string]LanguageConfig
	byExt      map[string]string // extension -> language
}

// NewConfigRegistry creates a registry with default configurations.
//
// Description:
//
//	Creates a new configuration registry pre-populated with configurations
//	for Python (pylsp), JavaScript/TypeScript (typescript-language-server),
//	Go (gopls), Rust (rust-analyzer), Java (jdtls), and C/C++ (clangd).
//
// Outputs:
//
//	*ConfigRegistry - The configured registry
func NewConfigRegistry() *ConfigRegistry {
	r := &ConfigRegistry{
		byLanguage: make(map[string]LanguageConfig),
		byExt:      make(map[string]string),
	}
	r.registerDefaults()
	return r
}

// registerDefaults adds default language server configurations.
func (r *ConfigRegistry) registerDefaults() {
	r.Register(LanguageConfig{
		Language:   "go",
		Command:    "gopls",
		Args:       []string{"serve"},
		Extensions: []string{".go"},
		RootFiles:  []string{"go.mod", "go.sum"},
	})

	r.Register(LanguageConfig{
		Language:   "python",
		Command:    "pylsp",
		Args:       []string{},
		Extensions: []string{".py", ".pyi"},
		RootFiles:  []string{"pyproject.toml", "requirements.txt", "setup.py"},
	})

	r.Register(LanguageConfig{
		Language:   "typescript",
		Command:    "typescript-language-server",
		Args:       []string{"--stdio"},
		Extensions: []string{".ts", ".tsx", ".mts", ".cts"},
		RootFiles:  []string{"tsconfig.json", "package.json"},
	})

	r.Register(LanguageConfig{
		Language:   "javascript",
		Command:    "typescript-language-server",
		Args:       []string{"--stdio"},
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		RootFiles:  []string{"package.json", "jsconfig.json"},
	})

	r.Register(LanguageConfig{
		Language:   "rust",
		Command:    "rust-analyzer",
		Args:       []string{},
		Extensions: []string{".rs"},
		RootFiles:  []string{"Cargo.toml"},
	})

	r.Register(LanguageConfig{
		Language:   "java",
		Command:    "jdtls",
		Args:       []string{},
		Extensions: []string{".java"},
		RootFiles:  []string{"pom.xml", "build.gradle", "build.gradle.kts"},
	})

	r.Register(LanguageConfig{
		Language:   "c",
		Command:    "clangd",
		Args:       []string{},
		Extensions: []string{".c", ".h"},
		RootFiles:  []string{"compile_commands.json", "CMakeLists.txt", "Makefile"},
	})

	r.Register(LanguageConfig{
		Language:   "cpp",
		Command:    "clangd",
		Args:       []string{},
		Extensions: []string{".cpp", ".cc", ".cxx", ".hpp", ".hh", ".hxx"},
		RootFiles:  []string{"compile_commands.json", "CMakeLists.txt", "Makefile"},
	})
}

// Register adds or updates a language configuration.
//
// Description:
//
//	Registers a language server configuration. If a configuration already
//	exists for the language, it is replaced. Also updates the extension
//	mapping for quick lookups.
//
// Inputs:
//
//	config - The language configuration to register
//
// Thread Safety:
//
//	Safe for concurrent use.
func (r *ConfigRegistry) Register(config LanguageConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byLanguage[config.Language] = config

	for _, ext := range config.Extensions {
		r.byExt[ext] = config.Language
	}
}

// LoadOverrides merges language configurations from a YAML file.
//
// Description:
//
//	The file holds a list of LanguageConfig entries. Each entry replaces
//	the default for its language, so a workspace can point "python" at a
//	different server or add languages the defaults do not cover.
//
// Inputs:
//
//	path - Path to the YAML overrides file
//
// Outputs:
//
//	error - Non-nil if the file cannot be read or parsed
func (r *ConfigRegistry) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read overrides: %w", err)
	}

	var configs []LanguageConfig
	if err := yaml.Unmarshal(data, &configs); err != nil {
		return fmt.Errorf("parse overrides: %w", err)
	}

	for _, c := range configs {
		if c.Language == "" || c.Command == "" {
			return fmt.Errorf("override entry missing language or command")
		}
		r.Register(c)
	}
	return nil
}

// Get returns the configuration for a language.
//
// Outputs:
//
//	LanguageConfig - The configuration (zero value if not found)
//	bool - True if the configuration was found
//
// Thread Safety:
//
//	Safe for concurrent use.
func (r *ConfigRegistry) Get(language string) (LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.byLanguage[language]
	return config, ok
}

// GetByExtension returns the configuration for a file extension.
//
// Inputs:
//
//	ext - The file extension including dot (e.g., ".go", ".py")
//
// Thread Safety:
//
//	Safe for concurrent use.
func (r *ConfigRegistry) GetByExtension(ext string) (LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.byExt[ext]
	if !ok {
		return LanguageConfig{}, false
	}
	config, ok := r.byLanguage[lang]
	return config, ok
}

// Languages returns all registered language names.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (r *ConfigRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	langs := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		langs = append(langs, lang)
	}
	return langs
}

// Extensions returns all file extensions mapped to a language.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (r *ConfigRegistry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}

// LanguageForExtension returns the language identifier for a file extension.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (r *ConfigRegistry) LanguageForExtension(ext string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.byExt[ext]
	return lang, ok
}
