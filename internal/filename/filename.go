// Package filename extracts part numbers and quantities from model file names.
//
// Accepted forms are "<part>.stl" (quantity 1) and "<part>_x<N>.stl" where the
// x may be upper or lower case and N is between 1 and MaxQuantity.
package filename

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/thatjpcsguy/printtrack/internal/domain"
)

// MaxQuantity is the largest quantity a file name may request.
const MaxQuantity = 1000

var (
	extPattern      = regexp.MustCompile(`(?i)\.stl$`)
	quantityPattern = regexp.MustCompile(`^(.+?)_[xX](\d+)$`)
)

// Parsed is the result of parsing one file name.
type Parsed struct {
	OriginalName string
	PartNumber   string
	Quantity     int
}

// Parse parses a file name. Errors wrap domain.ErrValidation.
func Parse(name string) (Parsed, error) {
	p := Parsed{OriginalName: name, Quantity: 1}

	base := extPattern.ReplaceAllString(name, "")
	if strings.TrimSpace(base) == "" {
		return p, fmt.Errorf("%w: empty file name %q", domain.ErrValidation, name)
	}

	if m := quantityPattern.FindStringSubmatch(base); m != nil {
		part := strings.TrimSpace(m[1])
		if part == "" {
			return p, fmt.Errorf("%w: empty part number in %q", domain.ErrValidation, name)
		}
		p.PartNumber = part

		qty, err := strconv.Atoi(m[2])
		if err != nil || qty < 1 || qty > MaxQuantity {
			return p, fmt.Errorf("%w: quantity %s out of range 1-%d in %q", domain.ErrValidation, m[2], MaxQuantity, name)
		}
		p.Quantity = qty
		return p, nil
	}

	p.PartNumber = strings.TrimSpace(base)
	return p, nil
}

// ValidQuantity reports whether n is an acceptable unit count.
func ValidQuantity(n int) bool {
	return n >= 1 && n <= MaxQuantity
}
