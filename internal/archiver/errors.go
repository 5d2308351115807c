package archiver

import "fmt"

// Stage names the emission step that failed.
type Stage string

const (
	StageEncode   Stage = "encode"
	StageCompress Stage = "compress"
	StageAllocate Stage = "allocate"
	StageWrite    Stage = "write"
)

// EmitError is returned when a batch could not be archived. The batch was
// not written; the caller decides whether to retry it.
type EmitError struct {
	BatchID string
	Stage   Stage
	Err     error
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("emit batch %s: %s: %v", e.BatchID, e.Stage, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *EmitError) Unwrap() error {
	return e.Err
}
