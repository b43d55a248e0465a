package sqlite

import (
	"fmt"
	"os"
	"strings"
)

// Migrate applies the schema file at path statement by statement.
func (s *Sqlite) Migrate(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema %s: %w", path, err)
	}

	for _, stmt := range strings.Split(string(b), ";\n") {
		st := strings.TrimSpace(stmt)
		if st == "" {
			continue
		}
		if _, err := s.Db.Exec(st); err != nil {
			return fmt.Errorf("apply schema %s: %w", path, err)
		}
	}
	return nil
}
