// SPDX-License-Identifier: MPL-2.0

package version

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// venvConfig is the PEP 405 configuration file written into every venv.
const venvConfig = "pyvenv.cfg"

// condaMetaPattern extracts the version from conda-meta/<name>-<ver>-<build>.json.
var condaMetaPattern = regexp.MustCompile(`^(.+)-(\d+(?:\.\d+)+)-[^-]+\.json$`)

// Reader reads a version for an environment's executable from files that
// describe the environment. It never starts a process.
type Reader struct {
	// EnvDir maps a binary path to its environment directory.
	EnvDir func(binary string) string
	// Executable is the base name used to pick the right conda-meta record.
	Executable string
	// Distribution, when set, is a package whose installed dist-info version
	// is preferred over the interpreter version.
	Distribution string
}

// Read returns the version for binary, or false when no metadata is found.
func (r Reader) Read(binary string) (string, bool) {
	envDir := filepath.Dir(filepath.Dir(binary))
	if r.EnvDir != nil {
		envDir = r.EnvDir(binary)
	}

	if r.Distribution != "" {
		if v, ok := r.fromDistInfo(envDir); ok {
			return v, true
		}
	}
	if v, ok := fromVenvConfig(filepath.Join(envDir, venvConfig)); ok {
		return v, true
	}
	if v, ok := r.fromCondaMeta(filepath.Join(envDir, "conda-meta")); ok {
		return v, true
	}
	// pyenv, asdf and mise name install directories after the version.
	if name := filepath.Base(envDir); Looks(name) {
		return core(name), true
	}
	return "", false
}

// fromVenvConfig parses the "key = value" lines of pyvenv.cfg.
func fromVenvConfig(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	values := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		values[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	for _, key := range []string{"version_info", "version"} {
		if v := numericPrefix(values[key]); Looks(v) {
			return v, true
		}
	}
	return "", false
}

func (r Reader) fromCondaMeta(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	name := strings.TrimSuffix(r.Executable, ".exe")
	for _, e := range entries {
		m := condaMetaPattern.FindStringSubmatch(e.Name())
		if m == nil || m[1] != name {
			continue
		}
		return m[2], true
	}
	return "", false
}

// fromDistInfo looks for <dist>-<version>.dist-info in the env's site-packages.
func (r Reader) fromDistInfo(envDir string) (string, bool) {
	patterns := []string{
		filepath.Join(envDir, "lib", "python*", "site-packages", "*.dist-info"),
		filepath.Join(envDir, "Lib", "site-packages", "*.dist-info"),
	}
	want := normalizeDist(r.Distribution)
	for _, pat := range patterns {
		matches, err := filepath.Glob(pat)
		if err != nil {
			continue
		}
		for _, m := range matches {
			base := strings.TrimSuffix(filepath.Base(m), ".dist-info")
			name, ver, ok := strings.Cut(base, "-")
			if !ok || normalizeDist(name) != want {
				continue
			}
			return ver, true
		}
	}
	return "", false
}

// numericPrefix keeps the leading all-numeric segments ("3.12.2.final.0" -> "3.12.2").
func numericPrefix(v string) string {
	parts := strings.Split(core(v), ".")
	keep := 0
	for keep < len(parts) && parts[keep] != "" && leadingDigits(parts[keep]) == parts[keep] {
		keep++
	}
	return strings.Join(parts[:keep], ".")
}

// normalizeDist applies the PEP 503 name normalization.
func normalizeDist(name string) string {
	name = strings.ToLower(name)
	return strings.NewReplacer("-", "_", ".", "_").Replace(name)
}
