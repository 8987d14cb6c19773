// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBar displays the progression of the classification of a list of images, along with the
// count of images per predicted class.
//
// It is safe for concurrent use.
type ProgressBar struct {
	mu       sync.Mutex
	bar      *progressbar.ProgressBar
	counts   map[string]int
	failures int
}

// NewProgressBar creates a ProgressBar for numImages images, written to w (os.Stderr if nil).
func NewProgressBar(numImages int, w io.Writer) *ProgressBar {
	if w == nil {
		w = os.Stderr
	}
	return &ProgressBar{
		counts: make(map[string]int),
		bar: progressbar.NewOptions(numImages,
			progressbar.OptionSetDescription("classifying"),
			progressbar.OptionSetWriter(w),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionSetTheme(ProgressbarStyle),
			progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(w) }),
		),
	}
}

// Done reports one image classified: label is the predicted class, or "" if the classification failed.
func (pBar *ProgressBar) Done(label string) {
	pBar.mu.Lock()
	defer pBar.mu.Unlock()
	if label == "" {
		pBar.failures++
	} else {
		pBar.counts[label]++
	}
	pBar.bar.Describe(pBar.lockedDescription())
	_ = pBar.bar.Add(1)
}

// Finish completes the progress bar, even if not all images were reported.
func (pBar *ProgressBar) Finish() {
	pBar.mu.Lock()
	defer pBar.mu.Unlock()
	_ = pBar.bar.Finish()
}

// Description returns the per-class counts displayed along the bar.
func (pBar *ProgressBar) Description() string {
	pBar.mu.Lock()
	defer pBar.mu.Unlock()
	return pBar.lockedDescription()
}

func (pBar *ProgressBar) lockedDescription() string {
	labels := make([]string, 0, len(pBar.counts))
	for label := range pBar.counts {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	parts := make([]string, 0, len(labels)+1)
	for _, label := range labels {
		parts = append(parts, fmt.Sprintf("[%s=%s]", label, humanize.Comma(int64(pBar.counts[label]))))
	}
	if pBar.failures > 0 {
		parts = append(parts, fmt.Sprintf("[failed=%s]", humanize.Comma(int64(pBar.failures))))
	}
	return strings.Join(parts, " ")
}
