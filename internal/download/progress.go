package download

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"spool/internal/odm"
)

// newProgressBar returns a terminal progress bar for the part transfer, or
// nil when progress rendering is disabled or stdout is not a terminal.
func (d *Downloader) newProgressBar(total int64, part odm.Part) *progressbar.ProgressBar {
	if !d.progress || !isatty.IsTerminal(os.Stdout.Fd()) {
		return nil
	}
	return progressbar.DefaultBytes(total, fmt.Sprintf("part %d", part.Index))
}
