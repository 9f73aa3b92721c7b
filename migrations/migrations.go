// Package migrations embeds the SQL schema scripts applied by cmd/migrate
// and by the integration tests.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Script is one migration file
type Script struct {
	Name string
	SQL  string
}

// Load returns the scripts for direction ("up" or "down"). Up scripts are
// ordered by name, down scripts in reverse.
func Load(direction string) ([]Script, error) {
	if direction != "up" && direction != "down" {
		return nil, fmt.Errorf("unknown migration direction %q", direction)
	}

	names, err := fs.Glob(files, "*."+direction+".sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)
	if direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	scripts := make([]Script, 0, len(names))
	for _, name := range names {
		content, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		scripts = append(scripts, Script{
			Name: strings.TrimSuffix(name, ".sql"),
			SQL:  string(content),
		})
	}
	return scripts, nil
}
