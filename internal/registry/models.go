package registry

import (
	"fmt"

	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/store"
)

// DefaultPrefix is the box id prefix used when provisioning without one
const DefaultPrefix = "BOX"

// BoxID formats the id of the i-th box, zero padded to width digits
func BoxID(prefix string, i, width int) domain.BoxID {
	return domain.BoxID(fmt.Sprintf("%s-%0*d", prefix, width, i))
}

// boxName is the shelf label shown next to a box id
func boxName(i int) string {
	return fmt.Sprintf("Shelf A-%d", i)
}

func decodeBoxes(docs []store.Document) ([]domain.Box, error) {
	boxes := make([]domain.Box, 0, len(docs))
	for _, d := range docs {
		var b domain.Box
		if err := d.Decode(&b); err != nil {
			return nil, err
		}
		boxes = append(boxes, b)
	}
	return boxes, nil
}
