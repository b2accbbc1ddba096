package operators

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
)

// ApplyBooleanMask keeps only the rows of col where mask is true.
func ApplyBooleanMask(col arrow.Array, mask *array.Boolean) (arrow.Array, error) {
	datum, err := compute.Filter(
		context.TODO(),
		compute.NewDatum(col),
		compute.NewDatum(mask),
		*compute.DefaultFilterOptions(),
	)
	if err != nil {
		return nil, err
	}

	arr := datum.(*compute.ArrayDatum).MakeArray()
	return arr, nil
}
