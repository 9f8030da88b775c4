package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
)

// Bar renders a terminal progress bar over the module calls of a run. The
// description names the current element and its position:
//
//	[2/5 Alpha beta]  20% [=======>                              ] (2/10, 1 it/s)
type Bar struct {
	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	out     io.Writer
	modules int
	logger  *zap.Logger
	errors  int
}

var _ biodumpy.Observer = (*Bar)(nil)

// NewBar creates a bar for a run that calls modules inputs per element.
func NewBar(out io.Writer, modules int, logger *zap.Logger) *Bar {
	if logger == nil {
		logger = zap.NewNop()
	}
	if modules < 1 {
		modules = 1
	}
	return &Bar{out: out, modules: modules, logger: logger}
}

// ElementStarted sizes the bar on the first element and describes the
// current query.
func (b *Bar) ElementStarted(el biodumpy.Element, index, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil {
		b.bar = progressbar.NewOptions(total*b.modules,
			progressbar.OptionSetWriter(b.out),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	b.bar.Describe(fmt.Sprintf("[%d/%d %s]", index+1, total, el.FileName()))
}

// ModuleFinished advances the bar by one module call.
func (b *Bar) ModuleFinished(_ string, _ biodumpy.Element, _ int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.errors++
	}
	if b.bar == nil {
		return
	}
	if addErr := b.bar.Add(1); addErr != nil {
		b.logger.Debug("progress bar add failed", zap.Error(addErr))
	}
}

// Dumped implements biodumpy.Observer.
func (b *Bar) Dumped(biodumpy.Dump) {}

// Finish completes the bar.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil {
		return
	}
	if err := b.bar.Finish(); err != nil {
		b.logger.Debug("progress bar finish failed", zap.Error(err))
	}
}

// Errors reports how many module calls failed.
func (b *Bar) Errors() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errors
}

// Progress reports completed module calls and the bar maximum, both zero
// before the first element.
func (b *Bar) Progress() (done, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil {
		return 0, 0
	}
	return int(b.bar.State().CurrentBytes), b.bar.GetMax()
}
