package jsloop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// Bundle uses esbuild to bundle the script at entry with all its imports
// into a single self-contained script that can be evaluated in the global
// scope. TypeScript entries are always compiled.
//
// If the source doesn't contain any import statements it is returned as-is.
func Bundle(entry string) (string, error) {
	source, err := os.ReadFile(entry)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", entry, err)
	}
	src := string(source)

	ext := strings.ToLower(filepath.Ext(entry))
	if !NeedsBundling(src) && ext != ".ts" && ext != ".tsx" {
		return src, nil
	}

	abs, err := filepath.Abs(entry)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", entry, err)
	}

	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:   []string{abs},
		AbsWorkingDir: filepath.Dir(abs),
		Bundle:        true,
		Format:        esbuild.FormatIIFE,
		Write:         false,
		Platform:      esbuild.PlatformNeutral,
		Target:        esbuild.ES2020,
		LogLevel:      esbuild.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("bundling %s: %s", filepath.Base(entry), strings.Join(msgs, "; "))
	}

	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling produced no output")
	}

	return string(result.OutputFiles[0].Contents), nil
}

// NeedsBundling checks if a script contains import statements that
// require bundling. Simple scripts without imports can skip this step.
func NeedsBundling(source string) bool {
	return strings.Contains(source, "import ") ||
		strings.Contains(source, "import{") ||
		strings.Contains(source, "import(") ||
		strings.Contains(source, "export ") ||
		strings.Contains(source, "require(")
}
