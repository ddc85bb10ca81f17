package ui

import (
	"fmt"
	"strings"
	"sync"
)

// ErrorToastTestID marks the application's error notification.
const ErrorToastTestID = "toast-error"

// ToastWatcher records the first error toast shown on a page.
//
// The handler only runs when the browser gets to it, which Playwright does
// before actions such as clicks and fills. Check covers the gap by looking
// at the page directly.
type ToastWatcher struct {
	toast Locator

	mu  sync.Mutex
	err error
}

// WatchErrorToast registers a one-shot handler for the error toast on page.
// Call Check once the test body is done.
func WatchErrorToast(page Page) (*ToastWatcher, error) {
	w := &ToastWatcher{toast: page.ByTestID(ErrorToastTestID)}
	if err := page.OnAppear(w.toast, 1, w.record); err != nil {
		return nil, fmt.Errorf("failed to watch error toast: %w", err)
	}
	return w, nil
}

func (w *ToastWatcher) record(toast Locator) {
	msg, textErr := toast.TextContent()
	if textErr != nil {
		msg = fmt.Sprintf("<unreadable: %v>", textErr)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = fmt.Errorf("an error was displayed: %s", strings.TrimSpace(msg))
	}
}

// Err returns the error recorded by the handler, or nil.
func (w *ToastWatcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Check returns the recorded error or, failing that, the toast visible on
// the page right now.
func (w *ToastWatcher) Check() error {
	if err := w.Err(); err != nil {
		return err
	}
	visible, err := w.toast.IsVisible()
	if err != nil || !visible {
		return nil
	}
	w.record(w.toast)
	return w.Err()
}
