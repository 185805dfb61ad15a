package migrations

import (
	"embed"
	"fmt"
	"sort"
)

//go:embed *.sql
var schemaFS embed.FS

// GetInitialSchema returns the concatenated schema migrations in file order.
func GetInitialSchema() (string, error) {
	entries, err := schemaFS.ReadDir(".")
	if err != nil {
		return "", fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no embedded migration files found")
	}
	sort.Strings(names)

	var schema string
	for _, name := range names {
		content, err := schemaFS.ReadFile(name)
		if err != nil {
			return "", fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		schema += string(content) + "\n"
	}

	return schema, nil
}
