package buildplan

import (
	"encoding/json"
	"fmt"
	"strings"
)

const manifestName = "package.json"

// Plan holds build hints derived from the repository manifest. Nil fields mean
// the hosting provider should decide.
type Plan struct {
	HasManifest     bool
	Framework       *string
	BuildCommand    *string
	InstallCommand  *string
	OutputDirectory *string
	// ManifestError is set when a manifest exists but could not be parsed.
	ManifestError error
}

type framework struct {
	dependency string
	name       string
	output     string
}

// Checked in order; the first dependency present wins.
var frameworks = []framework{
	{dependency: "next", name: "nextjs", output: ".next"},
	{dependency: "react", name: "create-react-app", output: "build"},
	{dependency: "vue", name: "vue", output: "dist"},
	{dependency: "@angular/core", name: "angular", output: "dist"},
	{dependency: "svelte", name: "svelte", output: "public"},
}

// manifest keeps raw values so unexpected shapes in unrelated keys do not fail the parse.
type manifest struct {
	Scripts      map[string]json.RawMessage
	Dependencies map[string]json.RawMessage
}

func parseManifest(raw string) (manifest, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return manifest{}, err
	}
	return manifest{
		Scripts:      section(top["scripts"]),
		Dependencies: section(top["dependencies"]),
	}, nil
}

// section decodes an object-valued key; anything else is treated as empty.
func section(raw json.RawMessage) map[string]json.RawMessage {
	var out map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &out) != nil {
		return nil
	}
	return out
}

// script returns the named script when it is a non-empty string.
func (m manifest) script(name string) string {
	raw, ok := m.Scripts[name]
	if !ok {
		return ""
	}
	var cmd string
	if json.Unmarshal(raw, &cmd) != nil {
		return ""
	}
	return strings.TrimSpace(cmd)
}

// FromFiles derives a Plan from an extracted file set.
func FromFiles(files map[string]string) Plan {
	raw, ok := files[manifestName]
	if !ok {
		return staticPlan(false)
	}

	m, err := parseManifest(raw)
	if err != nil {
		plan := staticPlan(true)
		plan.ManifestError = fmt.Errorf("parse %s: %w", manifestName, err)
		return plan
	}

	plan := Plan{HasManifest: true}
	for _, fw := range frameworks {
		if _, ok := m.Dependencies[fw.dependency]; ok {
			plan.Framework = ptr(fw.name)
			plan.OutputDirectory = ptr(fw.output)
			break
		}
	}

	switch {
	case m.script("build") != "":
		plan.BuildCommand = ptr("npm run build")
	case m.script("build-prod") != "":
		plan.BuildCommand = ptr("npm run build-prod")
	}

	plan.InstallCommand = ptr(installCommand(files))
	return plan
}

// NeedsBuild reports whether a build command was detected.
func (p Plan) NeedsBuild() bool {
	return p.BuildCommand != nil
}

func installCommand(files map[string]string) string {
	if _, ok := files["yarn.lock"]; ok {
		return "yarn install"
	}
	if _, ok := files["pnpm-lock.yaml"]; ok {
		return "pnpm install"
	}
	return "npm install"
}

func staticPlan(hasManifest bool) Plan {
	return Plan{HasManifest: hasManifest, OutputDirectory: ptr(".")}
}

func ptr(s string) *string { return &s }

// Deref returns the pointed-to string or an empty string.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
