// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"
)

func TestHeader_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sent := &Header{ID: "container-a", Action: ActionPreDump, Dependencies: rawString("B:C")}

	if err := WriteHeader(&buf, sent); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if got.ID != sent.ID || got.Action != sent.Action {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, sent)
	}

	list, _, isBulk, err := got.ParseDependencies()
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if isBulk {
		t.Fatalf("expected non-bulk dependencies")
	}
	if want := []string{"B", "C"}; !reflect.DeepEqual(list, want) {
		t.Fatalf("expected deps %v, got %v", want, list)
	}
}

func TestHeader_BulkDependencies(t *testing.T) {
	var buf bytes.Buffer
	sent := &Header{
		ID:           BulkDepsClientID,
		Action:       ActionAddDependencies,
		Dependencies: []byte(`{"A":["B","C"],"B":["C","A"]}`),
	}

	if err := WriteHeader(&buf, sent); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}

	_, bulk, isBulk, err := got.ParseDependencies()
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if !isBulk {
		t.Fatalf("expected bulk dependencies")
	}
	if want := []string{"B", "C"}; !reflect.DeepEqual(bulk["A"], want) {
		t.Fatalf("expected A deps %v, got %v", want, bulk["A"])
	}
}

func TestHeader_MissingFieldsRejected(t *testing.T) {
	tests := []struct {
		name string
		hdr  Header
	}{
		{"missing id", Header{Action: ActionPreDump}},
		{"missing action", Header{ID: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteHeader(&buf, &tt.hdr); err != nil {
				t.Fatalf("WriteHeader: %v", err)
			}
			if _, err := ReadHeader(&buf); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestToken_RoundTrip(t *testing.T) {
	for _, tok := range []string{TokenACK, TokenSYN, TokenImgAck, TokenTimeout, TokenNotConnected, TokenAlreadyCreated, TokenAlreadyConnect} {
		var buf bytes.Buffer
		if err := WriteToken(&buf, tok); err != nil {
			t.Fatalf("WriteToken(%q): %v", tok, err)
		}
		got, err := ReadToken(&buf)
		if err != nil {
			t.Fatalf("ReadToken: %v", err)
		}
		if got != tok {
			t.Fatalf("expected token %q, got %q", tok, got)
		}
	}
}

func TestImageDescriptor_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sent := &ImageDescriptor{ImgName: "pages-1.img", ImgSize: 4096}

	if err := WriteImageDescriptor(&buf, sent); err != nil {
		t.Fatalf("WriteImageDescriptor: %v", err)
	}
	got, err := ReadImageDescriptor(&buf)
	if err != nil {
		t.Fatalf("ReadImageDescriptor: %v", err)
	}
	if *got != *sent {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, sent)
	}
}

func TestImageDescriptor_MissingName(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteImageDescriptor(&buf, &ImageDescriptor{ImgSize: 10}); err != nil {
		t.Fatalf("WriteImageDescriptor: %v", err)
	}
	if _, err := ReadImageDescriptor(&buf); err == nil {
		t.Fatalf("expected missing-name validation error")
	}
}

func rawString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}
