// Package configs provides embedded configuration templates for codeindex.
//
// How Configuration Templates Work:
//
// Templates are embedded at build time using Go's //go:embed directive.
// This ensures they are available in ALL distributions:
//   - Source builds (go install)
//   - Binary releases
//   - Homebrew installations
//
// The templates are used by:
//   - cmd/codeindex/cmd/init.go → creates .codeindex.yaml in the project root
//   - cmd/codeindex/cmd/config.go → creates user config at ~/.config/codeindex/config.yaml
//
// Template files:
//   - project-config.example.yaml: Project-specific settings (paths, chunking, search, embeddings, performance)
//   - user-config.example.yaml: Machine-specific settings (embedding backend, Ollama host, rate limits, index workers)
//
// Configuration Hierarchy (see internal/config/config.go Load()):
//   1. Hardcoded defaults (internal/config/config.go NewConfig())
//   2. User config (~/.config/codeindex/config.yaml)
//   3. Project config (.codeindex.yaml)
//   4. Environment variables (CODEINDEX_*)
//
// To modify templates, edit the .yaml files in this directory and rebuild.
// Changes will be embedded in the next build.
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration.
// Created by: `codeindex config init` at ~/.config/codeindex/config.yaml
// Contains: Machine-specific settings like the embedding backend, Ollama host, rate limits, index workers.
// Use case: Settings that apply to all projects on this machine.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for project-level configuration.
// Created by: `codeindex init` at .codeindex.yaml in the project root
// Contains: Project-specific settings like paths.exclude, chunking, search weights, embeddings.
// Use case: Settings that are version-controlled with the project.
//
// Important: The template includes commented examples showing how to exclude
// project management directories (like .pm-docs/) to prevent search pollution.
// See: configs/project-config.example.yaml for the full template.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
