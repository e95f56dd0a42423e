// Package startup assembles the shell script an instance runs at boot.
package startup

import (
	"bytes"
	"compress/gzip"
	_ "embed"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"text/template"

	"github.com/foundry-cloud/flow/internal/config"
	"gopkg.in/yaml.v3"
)

const (
	BaseScript = "#!/bin/bash\nset -ex\n"

	keyPorts      = "port_forwarding_segment"
	keyEphemeral  = "ephemeral_storage_segment"
	keyPersistent = "persistent_storage_segment"
	keyBootstrap  = "bootstrap_script_segment"
)

//go:embed templates.yaml
var defaultTemplates []byte

var funcs = template.FuncMap{
	"quote": func(s string) string {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	},
}

type segment func() (string, error)

// Builder collects script segments in order and renders them after BaseScript.
type Builder struct {
	templates map[string]*template.Template
	segments  []segment
	logger    *slog.Logger
}

func NewBuilder(logger *slog.Logger) (*Builder, error) {
	return NewBuilderFromYAML(defaultTemplates, logger)
}

// NewBuilderFromYAML loads templates from a document with a top-level
// "templates" mapping of name to template text.
func NewBuilderFromYAML(data []byte, logger *slog.Logger) (*Builder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var doc struct {
		Templates map[string]string `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse startup templates: %w", err)
	}
	if doc.Templates == nil {
		return nil, fmt.Errorf("parse startup templates: no templates key")
	}

	b := &Builder{templates: make(map[string]*template.Template), logger: logger}
	for name, text := range doc.Templates {
		t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		b.templates[name] = t
	}
	return b, nil
}

func (b *Builder) AddPorts(ports []config.Port) error {
	var mappings []config.PortMapping
	for _, p := range ports {
		m, err := p.Mappings()
		if err != nil {
			return err
		}
		mappings = append(mappings, m...)
	}
	if len(mappings) == 0 {
		return nil
	}
	b.addTemplate(keyPorts, map[string]any{"PortMappings": mappings})
	return nil
}

type mount struct {
	Source string
	Target string
}

func (b *Builder) AddEphemeralStorage(cfg *config.EphemeralStorageConfig) {
	if cfg == nil || len(cfg.Mounts) == 0 {
		return
	}
	sources := make([]string, 0, len(cfg.Mounts))
	for src := range cfg.Mounts {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	mounts := make([]mount, 0, len(sources))
	for _, src := range sources {
		mounts = append(mounts, mount{Source: src, Target: cfg.Mounts[src]})
	}
	b.addTemplate(keyEphemeral, map[string]any{"Mounts": mounts})
}

func (b *Builder) AddPersistentStorage(cfg *config.PersistentStorage) {
	if cfg == nil || strings.TrimSpace(cfg.MountDir) == "" {
		return
	}
	b.addTemplate(keyPersistent, map[string]any{"MountPoints": []string{cfg.MountDir}})
}

// AddCustomScript appends the user's script verbatim.
func (b *Builder) AddCustomScript(script string) {
	if script == "" {
		return
	}
	b.segments = append(b.segments, func() (string, error) {
		return "# --- Custom Startup Script ---\n" + script + "\n", nil
	})
}

func (b *Builder) addTemplate(key string, data any) {
	t, ok := b.templates[key]
	if !ok {
		b.logger.Warn("startup template missing, segment skipped", "template", key)
		return
	}
	b.segments = append(b.segments, func() (string, error) {
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("render %s: %w", key, err)
		}
		return buf.String(), nil
	})
}

func (b *Builder) Build() (string, error) {
	parts := []string{BaseScript}
	for _, s := range b.segments {
		out, err := s()
		if err != nil {
			return "", err
		}
		parts = append(parts, out)
	}
	return strings.Join(parts, "\n"), nil
}

// Bootstrap wraps a full script in a short script that unpacks it from a
// gzip+base64 literal, keeping the bid payload small.
func (b *Builder) Bootstrap(full string) (string, error) {
	t, ok := b.templates[keyBootstrap]
	if !ok {
		return "", fmt.Errorf("startup template %s not found", keyBootstrap)
	}

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write([]byte(full)); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, map[string]any{"EncodedScript": base64.StdEncoding.EncodeToString(gz.Bytes())}); err != nil {
		return "", fmt.Errorf("render %s: %w", keyBootstrap, err)
	}
	return BaseScript + "\n" + buf.String(), nil
}

// ForTask renders the full script for a task and returns its bootstrap.
// It is pure: no network or filesystem access.
func ForTask(cfg *config.TaskConfig, logger *slog.Logger) (string, error) {
	b, err := NewBuilder(logger)
	if err != nil {
		return "", err
	}
	if err := b.AddPorts(cfg.Ports); err != nil {
		return "", err
	}
	b.AddEphemeralStorage(cfg.EphemeralStorage)
	b.AddPersistentStorage(cfg.PersistentStorage)
	b.AddCustomScript(cfg.StartupScript)

	full, err := b.Build()
	if err != nil {
		return "", err
	}
	b.logger.Debug("startup script built", "bytes", len(full), "segments", len(b.segments))
	return b.Bootstrap(full)
}
