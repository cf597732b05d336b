package sim

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// StructuralCorruptionError reports a malformed envelope or framing in a
// cross-partition payload. It is fatal: continuing could replay nonsense.
type StructuralCorruptionError struct {
	Partition PartitionID
	Field     string
	Detail    string
}

func (e *StructuralCorruptionError) Error() string {
	return fmt.Sprintf("partition %d: corrupted %s: %s",
		e.Partition, e.Field, e.Detail)
}

// InvalidTargetError reports a node or partition that cannot be found. The
// offending event is dropped and the run continues.
type InvalidTargetError struct {
	Node      NodeID
	Partition PartitionID
	Reason    string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target node %d on partition %d: %s",
		e.Node, e.Partition, e.Reason)
}

// RegistrationClosedError reports a communicator registered after the
// registry was frozen.
type RegistrationClosedError struct {
	Name string
}

func (e *RegistrationClosedError) Error() string {
	return fmt.Sprintf("cannot register communicator %q after freeze", e.Name)
}

// IsStructuralCorruption tells if err is, or wraps, a
// StructuralCorruptionError.
func IsStructuralCorruption(err error) bool {
	var target *StructuralCorruptionError
	return errors.As(err, &target)
}

// IsInvalidTarget tells if err is, or wraps, an InvalidTargetError.
func IsInvalidTarget(err error) bool {
	var target *InvalidTargetError
	return errors.As(err, &target)
}

func panicf(format string, args ...any) {
	logrus.Panicf(format, args...)
}
