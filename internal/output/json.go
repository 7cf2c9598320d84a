package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/baikal/sentinel/internal/model"
)

// WriteAlert serializes one confirmed-detection alert as a single
// line of JSON. If path is "-" or empty, writes to stdout.
func WriteAlert(alert *model.Alert, path string) error {
	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(alert); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}
