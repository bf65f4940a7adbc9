// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type sample struct {
	Name  string    `json:"name"`
	Count int       `json:"count"`
	When  time.Time `json:"when"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	t.Parallel()

	first, err := Marshal(map[string]int{"b": 2, "a": 1, "c": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 10 {
		again, _ := Marshal(map[string]int{"c": 3, "a": 1, "b": 2})
		if !bytes.Equal(first, again) {
			t.Fatal("map encoding differs between calls")
		}
	}
}

func TestTimeKeepsNanoseconds(t *testing.T) {
	t.Parallel()

	when := time.Date(2026, 6, 1, 12, 0, 0, 123456789, time.UTC)
	data, err := Marshal(sample{Name: "w1", Count: 3, When: when})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded sample
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.When.Equal(when) {
		t.Errorf("When = %v, want %v", decoded.When, when)
	}
	if decoded.Name != "w1" || decoded.Count != 3 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestDecodeIntoAnyUsesStringKeys(t *testing.T) {
	t.Parallel()

	data, _ := Marshal(sample{Name: "w1"})
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	fields, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type %T, want map[string]any", decoded)
	}
	if fields["name"] != "w1" {
		t.Errorf("name = %v, want w1", fields["name"])
	}
}

func TestDiagnose(t *testing.T) {
	t.Parallel()

	data, _ := Marshal(map[string]int{"count": 7})
	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diagnostic, `"count": 7`) {
		t.Errorf("Diagnose = %q", diagnostic)
	}
}
