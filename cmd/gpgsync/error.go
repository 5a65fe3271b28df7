package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// notifyFatal prints an error to standard error and hands it to the
// desktop-notification shim before terminating the process. The shim itself
// (the actual OS-level notification call) is an external collaborator, out
// of scope for this package; pushNotification is its seam.
func notifyFatal(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
	pushNotification("gpgsync", err.Error())
	os.Exit(1)
}

// pushNotification is the integration point for the desktop-notification
// shim. A real build would wire this to the platform notifier; absent that,
// it's a no-op, since the failure has already been reported on standard
// error by notifyFatal.
func pushNotification(title, body string) {
	_ = title
	_ = body
}
