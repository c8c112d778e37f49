// Package ports defines the boundaries between the inference core and
// the outside world: where longitudinal data comes from and where
// finished results go.
package ports

import (
	"context"

	"gommrm/domain/dataset"
)

// PanelReader loads a long-format longitudinal dataset from an
// external source such as an Excel workbook or a CSV export.
type PanelReader interface {
	ReadPanel(ctx context.Context, source string) (*dataset.Panel, error)
}
