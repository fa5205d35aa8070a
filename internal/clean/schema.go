package clean

import (
	"strings"

	"github.com/vk/cleanstep/internal/steperr"
	"github.com/vk/cleanstep/internal/table"
)

// Requirements declares the columns a table must carry before it can be
// cleaned.
type Requirements struct {
	Columns []string
}

// Check fails with a schema error naming every missing column.
func (r Requirements) Check(s table.Schema) error {
	var missing []string
	for _, name := range r.Columns {
		if s.Index(name) < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return steperr.Newf(steperr.KindSchema, "clean", "missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}
