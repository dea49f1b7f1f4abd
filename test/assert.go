package test

import (
	"testing"
	"time"
)

func AssertEqual(t *testing.T, expected, actual any) bool {
	t.Helper()

	if expected != actual {
		t.Errorf(""+
			"Not equal: \n"+
			"Expected: %v\n"+
			"Actual: %v", expected, actual)
		return false
	}

	return true
}

func AssertTrue(t *testing.T, condition bool, message string) bool {
	t.Helper()

	if !condition {
		t.Error(message)
		return false
	}

	return true
}

// Eventually polls condition until it holds or timeout passes.
func Eventually(t *testing.T, timeout time.Duration, condition func() bool, message string) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			t.Errorf("condition not met within %s: %s", timeout, message)
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
