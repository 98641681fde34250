package index

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deepresearch/internal/logging"
)

// loadDocument reads a file into plain text for chunking. The boolean is
// false when the extension is unsupported and the file should be skipped.
func loadDocument(path string) (string, bool, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md", ".markdown", ".rst", ".log":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", true, err
		}
		return string(data), true, nil

	case ".csv":
		text, err := loadCSV(path)
		return text, true, err

	case ".pdf":
		// No native PDF extraction; skip rather than index garbage bytes.
		logging.IndexWarn("skipping PDF (no text extractor): %s", path)
		return "", false, nil

	default:
		return "", false, nil
	}
}

// loadCSV flattens rows to "header: value" lines so column context
// survives chunking.
func loadCSV(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	header := records[0]
	var sb strings.Builder
	for _, row := range records[1:] {
		for i, field := range row {
			if field == "" {
				continue
			}
			if i < len(header) && header[i] != "" {
				sb.WriteString(header[i])
				sb.WriteString(": ")
			}
			sb.WriteString(field)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// indexable reports whether a walk entry should be considered for indexing.
// Hidden files and directories are skipped.
func indexable(name string) bool {
	return name != "" && !strings.HasPrefix(name, ".")
}
