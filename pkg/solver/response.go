package solver

import (
	"fmt"
	"os"
	"path"

	"github.com/yumyai/eslmm/pkg/combo"
)

// WriteResponseFiles materializes one response matrix file per species
// combination: one species per line with alternating 1/-1 response
// values, subject first. Returns the file paths in combination order.
func WriteResponseFiles(dir string, combos []combo.SpeciesCombination) ([]string, error) {

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(combos))
	for i, c := range combos {
		p := path.Join(dir, combo.Name(i)+".txt")
		f, err := os.Create(p)
		if err != nil {
			return nil, err
		}
		for j, sp := range c {
			response := 1
			if j%2 == 1 {
				response = -1
			}
			if _, err := fmt.Fprintf(f, "%s\t%d\n", sp, response); err != nil {
				f.Close()
				return nil, err
			}
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}

	return paths, nil
}
