package highlights

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/highlighter/internal/mutate"
)

// RestoreReport summarizes a restore pass.
type RestoreReport struct {
	// Skipped is set when another pass was already running.
	Skipped bool
	// Present counts records whose marker was already in the document.
	Present int
	// Restored counts markers placed by this pass.
	Restored int
	// Missing lists records left without a marker.
	Missing []string
}

// Driver re-resolves stored records into markers after the document was
// (re)loaded.
type Driver struct {
	store    *Store
	logger   *zap.Logger
	inFlight atomic.Bool
}

// NewDriver builds a Driver for store and runs it after every import.
func NewDriver(store *Store, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = noOpLogger
	}
	driver := &Driver{store: store, logger: logger}
	store.OnImport(func() { driver.Restore() })
	return driver
}

// Restore places a marker for every record that has none. Records that
// cannot be located stay in the store for a later pass.
func (d *Driver) Restore() RestoreReport {
	if !d.inFlight.CompareAndSwap(false, true) {
		return RestoreReport{Skipped: true}
	}
	defer d.inFlight.Store(false)

	var report RestoreReport
	for _, record := range d.store.Records() {
		if mutate.FindMarker(d.store.doc, record.ID) != nil {
			report.Present++
			continue
		}
		result, err := d.store.reapply(record)
		switch {
		case err != nil:
			d.logger.Debug(
				"highlight not restored",
				zap.String("highlight_id", record.ID),
				zap.String("path", record.Anchor.Path),
				zap.Error(err),
			)
			report.Missing = append(report.Missing, record.ID)
		case !result.Applied():
			d.logger.Debug("highlight restore deferred", zap.String("highlight_id", record.ID))
			report.Missing = append(report.Missing, record.ID)
		default:
			report.Restored++
		}
	}
	return report
}

// RestoreIfNeeded runs Restore only when the number of visible markers
// differs from the number of stored records.
func (d *Driver) RestoreIfNeeded() (RestoreReport, bool) {
	stored := d.store.Count()
	if stored == 0 || d.store.VisibleCount() == stored {
		return RestoreReport{}, false
	}
	return d.Restore(), true
}

// Running reports whether a pass is in progress.
func (d *Driver) Running() bool {
	return d.inFlight.Load()
}
