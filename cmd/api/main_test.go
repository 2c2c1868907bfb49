package main

import (
	"testing"
	"time"
)

func TestPhotoPublicID(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if got, want := photoPublicID("s42", at), "s42_1741597200000"; got != want {
		t.Errorf("photoPublicID = %q, want %q", got, want)
	}

	// Same student, later instant: distinct id, no overwrite.
	if photoPublicID("s42", at) == photoPublicID("s42", at.Add(time.Millisecond)) {
		t.Error("ids for different instants collide")
	}
}
