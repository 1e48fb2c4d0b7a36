package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/trellisdev/trellis/internal/document"
)

// Command-level error codes. Validation findings carry their own E1xx and
// E2xx codes from the document and scenario validators; these cover the
// failures that happen before a validator ever runs.
const (
	ErrCodeGeneric    = "E001" // unclassified failure
	ErrCodeRead       = "E002" // file exists but could not be read
	ErrCodeParse      = "E003" // file is not a well-formed document
	ErrCodeNotFound   = "E004" // path does not exist
	ErrCodeCompile    = "E005" // compilation was rejected
	ErrCodeEvaluate   = "E006" // evaluation failed
	ErrCodeWriteFile  = "E007" // output file could not be written
	ErrCodeJournal    = "E008" // journal could not be opened or queried
	ErrCodeBadRequest = "E009" // a flag or argument is malformed
)

// LoadError is a failure to get a document file off disk and parsed.
type LoadError struct {
	Code    string
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDocument reads and parses one document file. Failures come back as
// *LoadError so commands can map them onto output and exit codes.
func LoadDocument(path string) (*document.File, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{
			Code:    ErrCodeNotFound,
			Path:    path,
			Message: fmt.Sprintf("document not found: %s", path),
		}
	}
	if err != nil {
		return nil, &LoadError{
			Code:    ErrCodeRead,
			Path:    path,
			Message: fmt.Sprintf("cannot stat %s: %v", path, err),
		}
	}
	if info.IsDir() {
		return nil, &LoadError{
			Code:    ErrCodeRead,
			Path:    path,
			Message: fmt.Sprintf("%s is a directory, expected a document file", path),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			Code:    ErrCodeRead,
			Path:    path,
			Message: fmt.Sprintf("cannot read %s: %v", path, err),
		}
	}

	file, err := document.Parse(data)
	if err != nil {
		return nil, &LoadError{
			Code:    ErrCodeParse,
			Path:    path,
			Message: fmt.Sprintf("%s: %v", path, err),
		}
	}

	return file, nil
}

// documentName derives the session document name from a file path:
// the base name with the extension stripped.
func documentName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
