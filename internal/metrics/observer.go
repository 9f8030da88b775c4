package metrics

import "github.com/JakeFAU/biodumpy/internal/biodumpy"

// RunObserver feeds runner callbacks into the collectors.
type RunObserver struct{}

// ElementStarted is a no-op; element progress is reported by the progress bar.
func (RunObserver) ElementStarted(biodumpy.Element, int, int) {}

// ModuleFinished counts records or errors for the module.
func (RunObserver) ModuleFinished(module string, _ biodumpy.Element, records int, err error) {
	ObserveModule(module, records, err != nil)
}

// Dumped counts the dump.
func (RunObserver) Dumped(d biodumpy.Dump) {
	ObserveDump(d.Module, string(d.Format), d.Bytes)
}
