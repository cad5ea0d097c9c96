package persist

import (
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/pkg/errors"
)

// Phase names one step of a save.
type Phase string

const (
	PhaseBegin       Phase = "begin"
	PhaseDocument    Phase = "create_document"
	PhaseBaseRows    Phase = "persist_base_rows"
	PhaseContainment Phase = "link_containment"
	PhaseAttributes  Phase = "persist_attributes"
	PhaseNested      Phase = "persist_nested"
	PhaseEdges       Phase = "persist_edges"
	PhaseDocumentKey Phase = "extract_document_key"
	PhaseCommit      Phase = "commit"
)

// PersistError reports the phase, and the record type when there is one, at
// which a save failed. The save's transaction has been rolled back.
type PersistError struct {
	Phase Phase
	Type  string
	Err   error
}

func newError(phase Phase, typeName string, err error) *PersistError {
	return &PersistError{Phase: phase, Type: typeName, Err: err}
}

func (e *PersistError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("phase '%s' -> type '%s': %v", e.Phase, e.Type, e.Err)
	}
	return fmt.Sprintf("phase '%s': %v", e.Phase, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

func (e *PersistError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusInternalServerError, e.Error()).
		AddMetaValue("phase", string(e.Phase)).
		AddMetaValue("type", e.Type)
}

// IsPersistError reports whether a PersistError is anywhere in err's chain.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}
