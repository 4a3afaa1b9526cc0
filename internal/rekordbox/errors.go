package rekordbox

import "fmt"

// Kind classifies a load failure.
type Kind string

const (
	KindIO       Kind = "io"
	KindDatabase Kind = "database"
	KindXML      Kind = "xml"
)

// Error reports a collection that could not be read.
type Error struct {
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindDatabase:
		return fmt.Sprintf("reading library database %s: %v", e.Path, e.Err)
	case KindXML:
		return fmt.Sprintf("parsing library export %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("reading library %s: %v", e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }
