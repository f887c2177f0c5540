// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := Fake(start)

	if !fake.Now().Equal(start) {
		t.Errorf("unexpected initial time: %v", fake.Now())
	}

	fake.Sleep(1500 * time.Millisecond)
	fake.Sleep(5 * time.Second)

	sleeps := fake.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 1500*time.Millisecond || sleeps[1] != 5*time.Second {
		t.Errorf("unexpected recorded sleeps: %v", sleeps)
	}
	want := start.Add(6500 * time.Millisecond)
	if !fake.Now().Equal(want) {
		t.Errorf("time after sleeps: got %v, want %v", fake.Now(), want)
	}

	t.Run("after fires immediately", func(t *testing.T) {
		select {
		case at := <-fake.After(time.Minute):
			if !at.Equal(want.Add(time.Minute)) {
				t.Errorf("unexpected fire time: %v", at)
			}
		default:
			t.Fatal("After channel did not fire")
		}
	})

	t.Run("advance", func(t *testing.T) {
		before := len(fake.Sleeps())
		fake.Advance(time.Hour)
		if len(fake.Sleeps()) != before {
			t.Error("Advance recorded a sleep")
		}
	})
}
