package automation

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

func TestValidateFilePathRejectsTraversal(t *testing.T) {
	if err := validateFilePath("/tmp/../etc/passwd"); err == nil {
		t.Fatalf("expected error for non-canonical path")
	}
}

func TestValidateFilePathAcceptsCanonical(t *testing.T) {
	if err := validateFilePath("/tmp/foo.txt"); err != nil {
		t.Fatalf("validateFilePath() error = %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	err := newError(KindApplicationFailed, "application %q is not supported", "xyz")
	if err.Classification() != string(KindApplicationFailed) {
		t.Fatalf("expected classification %q, got %q", KindApplicationFailed, err.Classification())
	}
}

func TestSwitchToApplicationUnknownReturnsClassifiedError(t *testing.T) {
	_, ok := launchCommands[models.ApplicationName("not-a-real-app")]
	if ok {
		t.Fatalf("expected no launch commands for a bogus application name")
	}
	err := switchToApplication(context.Background(), models.ApplicationName("not-a-real-app"))
	var autoErr *Error
	if !errors.As(err, &autoErr) || autoErr.Kind != KindApplicationFailed {
		t.Fatalf("expected a %s error for a bogus application name, got %v", KindApplicationFailed, err)
	}
}

func TestXdotoolButtonMapping(t *testing.T) {
	cases := map[models.MouseButton]string{
		models.ButtonLeft:   "1",
		models.ButtonMiddle: "2",
		models.ButtonRight:  "3",
	}
	for button, want := range cases {
		got, err := xdotoolButton(button)
		if err != nil {
			t.Fatalf("xdotoolButton(%s) error = %v", button, err)
		}
		if got != want {
			t.Fatalf("xdotoolButton(%s) = %s, want %s", button, got, want)
		}
	}
	if _, err := xdotoolButton(models.MouseButton("bogus")); err == nil {
		t.Fatalf("expected error for unknown button")
	}
}

func TestXdotoolScrollButtonMapping(t *testing.T) {
	if _, err := xdotoolScrollButton(models.ScrollDirection("bogus")); err == nil {
		t.Fatalf("expected error for unknown scroll direction")
	}
}
